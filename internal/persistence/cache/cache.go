// Package cache provides a read-through cache in front of a run store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/runnerz/internal/domain"
	"example.com/runnerz/internal/observability"
)

const (
	keyPrefix     = "runnerz:run:"
	versionPrefix = "runnerz:runver:"
)

// Backend is the key/value surface the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// RedisBackend implements Backend on go-redis.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackendFromURL parses redisURL, connects and pings the server.
func NewRedisBackendFromURL(ctx context.Context, redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

// Get returns the cached value and whether it was present.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set stores value under key with a TTL.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

// Del removes keys.
func (b *RedisBackend) Del(ctx context.Context, keys ...string) error {
	return b.client.Del(ctx, keys...).Err()
}

// Incr atomically increments the integer at key, starting from zero.
func (b *RedisBackend) Incr(ctx context.Context, key string) (int64, error) {
	return b.client.Incr(ctx, key).Result()
}

// Close releases the client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// Repository decorates a domain.RunRepository, caching FindByID results.
// Cache failures are logged and fall through to the wrapped store.
//
// Entries are keyed by a per-run version that Update and Delete bump. A read
// that loaded the old row before a write can only fill the key of the version
// it started with, which no later read looks at.
type Repository struct {
	domain.RunRepository
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger
}

// NewRepository wraps next with a cache held in backend.
func NewRepository(next domain.RunRepository, backend Backend, ttl time.Duration, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{RunRepository: next, backend: backend, ttl: ttl, logger: logger}
}

type cachedRun struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	StartedOn   time.Time `json:"started_on"`
	CompletedOn time.Time `json:"completed_on"`
	Miles       float64   `json:"miles"`
	Location    string    `json:"location"`
}

// FindByID serves from cache when possible and populates it on a miss.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Run, error) {
	version, err := r.version(ctx, id)
	if err != nil {
		observability.RecordCacheLookup("error")
		r.logger.WarnContext(ctx, "run cache read failed", "run_id", id, "error", err)
		return r.RunRepository.FindByID(ctx, id)
	}

	key := runKey(id, version)
	raw, ok, err := r.backend.Get(ctx, key)
	switch {
	case err != nil:
		observability.RecordCacheLookup("error")
		r.logger.WarnContext(ctx, "run cache read failed", "run_id", id, "error", err)
	case ok:
		var cached cachedRun
		if err := json.Unmarshal(raw, &cached); err == nil {
			observability.RecordCacheLookup("hit")
			run := domain.Run{
				ID:          cached.ID,
				Title:       cached.Title,
				StartedOn:   cached.StartedOn,
				CompletedOn: cached.CompletedOn,
				Miles:       cached.Miles,
				Location:    domain.Location(cached.Location),
			}
			return &run, nil
		}
		observability.RecordCacheLookup("error")
	default:
		observability.RecordCacheLookup("miss")
	}

	run, err := r.RunRepository.FindByID(ctx, id)
	if err != nil || run == nil {
		return run, err
	}

	body, err := json.Marshal(cachedRun{
		ID:          run.ID,
		Title:       run.Title,
		StartedOn:   run.StartedOn,
		CompletedOn: run.CompletedOn,
		Miles:       run.Miles,
		Location:    string(run.Location),
	})
	if err == nil {
		if err := r.backend.Set(ctx, key, body, r.ttl); err != nil {
			r.logger.WarnContext(ctx, "run cache write failed", "run_id", id, "error", err)
		}
	}
	return run, nil
}

// version returns the current cache generation for id; zero until the run is
// first written through this decorator.
func (r *Repository) version(ctx context.Context, id int64) (int64, error) {
	raw, ok, err := r.backend.Get(ctx, versionKey(id))
	if err != nil || !ok {
		return 0, err
	}
	version, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cache version for run %d: %w", id, err)
	}
	return version, nil
}

// Update writes through and invalidates the cached entry.
func (r *Repository) Update(ctx context.Context, run domain.Run, id int64) error {
	if err := r.RunRepository.Update(ctx, run, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

// Delete removes from the store and invalidates the cached entry.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	if err := r.RunRepository.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

// invalidate moves id to a new version, then drops the entry of the previous
// one. Version keys never expire so a version is never reused.
func (r *Repository) invalidate(ctx context.Context, id int64) {
	version, err := r.backend.Incr(ctx, versionKey(id))
	if err != nil {
		r.logger.WarnContext(ctx, "run cache invalidation failed", "run_id", id, "error", err)
		return
	}
	if err := r.backend.Del(ctx, runKey(id, version-1)); err != nil {
		r.logger.WarnContext(ctx, "run cache cleanup failed", "run_id", id, "error", err)
	}
}

func runKey(id, version int64) string {
	return keyPrefix + strconv.FormatInt(id, 10) + ":v" + strconv.FormatInt(version, 10)
}

func versionKey(id int64) string {
	return versionPrefix + strconv.FormatInt(id, 10)
}
