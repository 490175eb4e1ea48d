// Package persistence selects and assembles the run store from configuration.
package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/runnerz/internal/domain"
	"example.com/runnerz/internal/persistence/cache"
	"example.com/runnerz/internal/persistence/postgres"
	"example.com/runnerz/internal/persistence/sqlite"
)

// Supported store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SupportedDrivers lists all available store drivers.
var SupportedDrivers = []string{DriverPostgres, DriverSQLite}

// Options describes how to build the store.
type Options struct {
	Driver      string
	PostgresURL string
	SQLiteDSN   string
	// OutboxTopic enables transactional outbox writes on the Postgres driver.
	OutboxTopic string
	// RedisURL enables the read-through run cache when set.
	RedisURL string
	CacheTTL time.Duration
	// Migrate applies pending Postgres migrations on open.
	Migrate bool
}

// Store bundles the assembled repository with the resources backing it.
type Store struct {
	Repository domain.RunRepository
	// Pool is set only for the Postgres driver.
	Pool    *pgxpool.Pool
	Driver  string
	closers []func()
}

// Close releases every resource opened by Open, most recent first.
func (s *Store) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Open builds the store for opts.Driver, optionally wrapped in a Redis cache.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	store := &Store{Driver: driver}

	switch driver {
	case DriverPostgres:
		pool, err := pgxpool.New(ctx, opts.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store.closers = append(store.closers, pool.Close)
		store.Pool = pool

		if opts.Migrate {
			applied, err := postgres.Migrate(ctx, pool)
			if err != nil {
				store.Close()
				return nil, err
			}
			if len(applied) > 0 {
				logger.Info("applied postgres migrations", "versions", applied)
			}
		}

		var repoOpts []postgres.Option
		if opts.OutboxTopic != "" {
			repoOpts = append(repoOpts, postgres.WithOutbox(opts.OutboxTopic))
		}
		store.Repository = postgres.NewRepository(pool, repoOpts...)
	case DriverSQLite:
		db, err := sqlite.Open(opts.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		store.closers = append(store.closers, func() { db.Close() })
		store.Repository = sqlite.NewRepository(db)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s (supported: %v)", opts.Driver, SupportedDrivers)
	}

	if opts.RedisURL != "" {
		backend, err := cache.NewRedisBackendFromURL(ctx, opts.RedisURL)
		if err != nil {
			store.Close()
			return nil, err
		}
		store.closers = append(store.closers, func() { backend.Close() })
		store.Repository = cache.NewRepository(store.Repository, backend, opts.CacheTTL, logger)
		logger.Info("run cache enabled", "ttl", opts.CacheTTL)
	}

	logger.Info("store initialized", "driver", driver)
	return store, nil
}
