package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"example.com/runnerz/internal/api"
	"example.com/runnerz/internal/config"
	"example.com/runnerz/internal/domain"
	"example.com/runnerz/internal/logging"
	"example.com/runnerz/internal/observability"
	"example.com/runnerz/internal/outbox"
	"example.com/runnerz/internal/persistence"
	"example.com/runnerz/internal/seed"
	httptransport "example.com/runnerz/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("runnerz api stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := persistence.Open(ctx, persistence.Options{
		Driver:      cfg.StoreDriver,
		PostgresURL: cfg.PostgresURL,
		SQLiteDSN:   cfg.SQLiteDSN,
		OutboxTopic: outboxTopic(cfg),
		RedisURL:    cfg.RedisURL,
		CacheTTL:    cfg.RunCacheTTL,
		Migrate:     true,
	}, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	service := domain.NewService(store.Repository)

	if cfg.SeedFile != "" {
		if _, err := seed.LoadFile(ctx, service, cfg.SeedFile, logger); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	api.NewHandler(service, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", observability.Handler())

	serverCfg := httptransport.DefaultServerConfig(cfg.HTTPAddress)
	serverCfg.AllowedOrigin = cfg.CORSAllowedOrigin
	server := httptransport.NewServer(serverCfg, mux, logger)

	g, gCtx := errgroup.WithContext(ctx)

	if store.Pool != nil && cfg.EventsEnabled() {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		dispatcher := outbox.NewDispatcher(outbox.NewPostgresStore(store.Pool), producer,
			logger.With("component", "outbox"), cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		g.Go(func() error {
			logger.Info("outbox dispatcher started", "topic", cfg.RunEventsTopic, "brokers", cfg.KafkaBrokers)
			dispatcher.Start(gCtx)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("runnerz api listening", "addr", cfg.HTTPAddress, "store", store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("runnerz api stopped")
	return nil
}

// outboxTopic enables outbox rows only when something will drain them.
func outboxTopic(cfg config.Config) string {
	if !cfg.EventsEnabled() {
		return ""
	}
	return cfg.RunEventsTopic
}
