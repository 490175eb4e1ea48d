//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/runnerz/internal/events"
	"example.com/runnerz/internal/persistence/postgres"
)

func TestEventLogHandlerStoresEventOnce(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	handler := NewEventLogHandler(pool)

	payload := json.RawMessage(`{"run_id":1,"title":"Morning Jog"}`)
	msg := Message{
		EventType: events.TypeRunCreated,
		EventID:   "6f1c7a1e-0000-4000-8000-000000000001",
		RunID:     1,
		Topic:     "runnerz.runs.v1",
		Partition: 0,
		Offset:    5,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	require.NoError(t, handler.Handle(ctx, msg))
	require.NoError(t, handler.Handle(ctx, msg), "redelivery is ignored")

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM run_event_log`).Scan(&count))
	require.Equal(t, 1, count)

	var storedPayload []byte
	var runID int64
	err := pool.QueryRow(ctx, `SELECT payload, run_id FROM run_event_log LIMIT 1`).Scan(&storedPayload, &runID)
	require.NoError(t, err)
	require.JSONEq(t, string(payload), string(storedPayload))
	require.Equal(t, int64(1), runID)
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

	var pool *pgxpool.Pool
	require.Eventually(t, func() bool {
		pool, err = pgxpool.New(ctx, connStr)
		if err != nil {
			return false
		}
		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			return false
		}
		return true
	}, 30*time.Second, time.Second)
	t.Cleanup(func() { pool.Close() })

	_, err = postgres.Migrate(ctx, pool)
	require.NoError(t, err)
	return pool
}
