//go:build integration

package outbox

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/runnerz/internal/domain"
	"example.com/runnerz/internal/events"
	"example.com/runnerz/internal/persistence/postgres"
)

const testTopic = "runnerz.runs.v1"

func TestPostgresStoreClaimAndSettle(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	repo := postgres.NewRepository(pool, postgres.WithOutbox(testTopic))

	id, err := repo.Create(ctx, morningJog())
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, morningJog(), id))

	store := NewPostgresStore(pool)
	claimed, err := store.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, events.TypeRunCreated, claimed[0].EventType)
	require.Equal(t, events.TypeRunUpdated, claimed[1].EventType)

	again, err := store.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, again, "claimed rows stay leased")

	require.NoError(t, store.MarkFailed(ctx, []int64{claimed[1].EventID}, "broker down"))
	require.NoError(t, store.MarkPublished(ctx, []int64{claimed[0].EventID}))

	retried, err := store.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	require.Equal(t, claimed[1].EventID, retried[0].EventID)
	require.Equal(t, 1, retried[0].Attempts)

	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pending)
}

func TestDispatcherDeliversToKafka(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	repo := postgres.NewRepository(pool, postgres.WithOutbox(testTopic))

	id, err := repo.Create(ctx, morningJog())
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, id))

	kContainer, err := kafkaContainer.RunContainer(ctx)
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, kContainer)

	brokers, err := kContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	producer := NewKafkaProducer(brokers)
	t.Cleanup(func() { _ = producer.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := NewDispatcher(NewPostgresStore(pool), producer, logger, 100*time.Millisecond, 10)

	require.Eventually(t, func() bool {
		n, err := dispatcher.ProcessBatch(ctx)
		return err == nil && n == 2
	}, 30*time.Second, 500*time.Millisecond)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     testTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	t.Cleanup(func() { _ = reader.Close() })

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var types []string
	for len(types) < 2 {
		msg, err := reader.ReadMessage(readCtx)
		require.NoError(t, err)
		require.Equal(t, []byte("1"), msg.Key)
		for _, h := range msg.Headers {
			if h.Key == events.HeaderEventType {
				types = append(types, string(h.Value))
			}
		}
	}
	require.Equal(t, []string{events.TypeRunCreated, events.TypeRunDeleted}, types)
}

func morningJog() domain.Run {
	start := time.Date(2024, time.January, 1, 6, 0, 0, 0, time.UTC)
	return domain.Run{
		Title:       "Morning Jog",
		StartedOn:   start,
		CompletedOn: start.Add(30 * time.Minute),
		Miles:       3.1,
		Location:    domain.LocationOutdoor,
	}
}

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("runnerz"),
		postgrescontainer.WithUsername("runnerz"),
		postgrescontainer.WithPassword("runnerz"),
	)
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, pg)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, err = postgres.Migrate(ctx, pool)
	require.NoError(t, err)
	return pool
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
