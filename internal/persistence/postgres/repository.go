// Package postgres provides the PostgreSQL-backed run store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/runnerz/internal/domain"
	"example.com/runnerz/internal/events"
	"example.com/runnerz/internal/observability"
)

const runColumns = `id, title, started_on, completed_on, miles, location`

// Option configures optional Repository behaviour.
type Option func(*Repository)

// WithOutbox records a run change event in the outbox table, inside the write
// transaction, for every create, update and effective delete.
func WithOutbox(topic string) Option {
	return func(r *Repository) {
		r.outboxTopic = topic
	}
}

// Repository provides Postgres-backed persistence for runs and their outbox events.
type Repository struct {
	pool        *pgxpool.Pool
	outboxTopic string
	now         func() time.Time
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindAll returns every run ordered by id.
func (r *Repository) FindAll(ctx context.Context) ([]domain.Run, error) {
	return r.queryRuns(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id`)
}

// FindByLocation returns runs recorded at the given location ordered by id.
func (r *Repository) FindByLocation(ctx context.Context, location domain.Location) ([]domain.Run, error) {
	return r.queryRuns(ctx, `SELECT `+runColumns+` FROM runs WHERE location = $1 ORDER BY id`, string(location))
}

// FindByID retrieves a run by ID, returning nil when none exists.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Run, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find run %d: %w", id, err)
	}
	return &run, nil
}

// Create inserts the run and returns the assigned id.
func (r *Repository) Create(ctx context.Context, run domain.Run) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	id, err := r.insertRun(ctx, tx, run)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	observability.RecordRunPersisted("create", r.now())
	return id, nil
}

// SaveAll inserts every run in a single transaction.
func (r *Repository) SaveAll(ctx context.Context, runs []domain.Run) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, run := range runs {
		if _, err := r.insertRun(ctx, tx, run); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordRunPersisted("save_all", r.now())
	return nil
}

func (r *Repository) insertRun(ctx context.Context, tx pgx.Tx, run domain.Run) (int64, error) {
	const stmt = `INSERT INTO runs (title, started_on, completed_on, miles, location)
        VALUES ($1,$2,$3,$4,$5) RETURNING id`

	var id int64
	err := tx.QueryRow(ctx, stmt,
		run.Title,
		run.StartedOn.UTC(),
		run.CompletedOn.UTC(),
		run.Miles,
		string(run.Location),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	err = r.insertOutbox(ctx, tx, id, events.TypeRunCreated, events.RunCreated{
		RunID:       id,
		Title:       run.Title,
		StartedOn:   run.StartedOn.UTC(),
		CompletedOn: run.CompletedOn.UTC(),
		Miles:       run.Miles,
		Location:    string(run.Location),
		OccurredAt:  r.now(),
	})
	return id, err
}

// Update replaces the stored record. It returns domain.ErrRunNotFound when no row matches id.
func (r *Repository) Update(ctx context.Context, run domain.Run, id int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const stmt = `UPDATE runs SET title=$1, started_on=$2, completed_on=$3, miles=$4, location=$5 WHERE id=$6`
	tag, err := tx.Exec(ctx, stmt,
		run.Title,
		run.StartedOn.UTC(),
		run.CompletedOn.UTC(),
		run.Miles,
		string(run.Location),
		id,
	)
	if err != nil {
		return fmt.Errorf("update run %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}

	if err := r.insertOutbox(ctx, tx, id, events.TypeRunUpdated, events.RunUpdated{
		RunID:       id,
		Title:       run.Title,
		StartedOn:   run.StartedOn.UTC(),
		CompletedOn: run.CompletedOn.UTC(),
		Miles:       run.Miles,
		Location:    string(run.Location),
		OccurredAt:  r.now(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordRunPersisted("update", r.now())
	return nil
}

// Delete removes the run. Deleting a missing id succeeds without emitting an event.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete run %d: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		if err := r.insertOutbox(ctx, tx, id, events.TypeRunDeleted, events.RunDeleted{
			RunID:      id,
			OccurredAt: r.now(),
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		observability.RecordRunPersisted("delete", r.now())
	}
	return nil
}

// Count returns the number of stored runs.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, runID int64, eventType string, payload interface{}) error {
	if r.outboxTopic == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO run_outbox (event_uuid, aggregate_id, event_type, topic, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6)`

	_, err = tx.Exec(ctx, stmt,
		uuid.NewString(),
		runID,
		eventType,
		r.outboxTopic,
		strconv.FormatInt(runID, 10),
		body,
	)
	if err != nil {
		return fmt.Errorf("insert outbox %s: %w", eventType, err)
	}
	return nil
}

func (r *Repository) queryRuns(ctx context.Context, query string, args ...interface{}) ([]domain.Run, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanRun(row pgx.Row) (domain.Run, error) {
	var (
		run      domain.Run
		location string
	)
	if err := row.Scan(&run.ID, &run.Title, &run.StartedOn, &run.CompletedOn, &run.Miles, &location); err != nil {
		return domain.Run{}, err
	}
	run.StartedOn = run.StartedOn.UTC()
	run.CompletedOn = run.CompletedOn.UTC()
	run.Location = domain.Location(location)
	return run, nil
}
