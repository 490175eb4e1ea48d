// Package sqlite provides an embedded run store for local development and tests.
//
// Queries are written with PostgreSQL style $N placeholders and rebound to ?
// so both stores share the same statements.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite"

	"example.com/runnerz/internal/domain"
	"example.com/runnerz/internal/observability"
)

const timeLayout = time.RFC3339Nano

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    title        TEXT NOT NULL,
    started_on   TEXT NOT NULL,
    completed_on TEXT NOT NULL,
    miles        REAL NOT NULL CHECK (miles >= 0),
    location     TEXT NOT NULL CHECK (location IN ('indoor', 'outdoor'))
);

CREATE INDEX IF NOT EXISTS runs_location_idx ON runs (location);
`

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

func rebind(query string) string {
	return placeholderRe.ReplaceAllString(query, "?")
}

// Open creates the SQLite connection and applies the schema.
// dsn examples: "file:runnerz.db?cache=shared&mode=rwc" or ":memory:".
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection serialises writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return db, nil
}

// Repository is a database/sql backed run store.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a Repository over an opened database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindAll returns every run ordered by id.
func (r *Repository) FindAll(ctx context.Context) ([]domain.Run, error) {
	return r.queryRuns(ctx, `SELECT id, title, started_on, completed_on, miles, location FROM runs ORDER BY id`)
}

// FindByLocation returns runs recorded at the given location ordered by id.
func (r *Repository) FindByLocation(ctx context.Context, location domain.Location) ([]domain.Run, error) {
	return r.queryRuns(ctx, `SELECT id, title, started_on, completed_on, miles, location FROM runs WHERE location = $1 ORDER BY id`, string(location))
}

// FindByID retrieves a run by ID, returning nil when none exists.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, rebind(`SELECT id, title, started_on, completed_on, miles, location FROM runs WHERE id = $1`), id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find run %d: %w", id, err)
	}
	return &run, nil
}

// Create inserts the run and returns the assigned id.
func (r *Repository) Create(ctx context.Context, run domain.Run) (int64, error) {
	id, err := insertRun(ctx, r.db, run)
	if err != nil {
		return 0, err
	}
	observability.RecordRunPersisted("create", time.Now().UTC())
	return id, nil
}

// SaveAll inserts every run in a single transaction.
func (r *Repository) SaveAll(ctx context.Context, runs []domain.Run) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, run := range runs {
		if _, err := insertRun(ctx, tx, run); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	observability.RecordRunPersisted("save_all", time.Now().UTC())
	return nil
}

// Update replaces the stored record. It returns domain.ErrRunNotFound when no row matches id.
func (r *Repository) Update(ctx context.Context, run domain.Run, id int64) error {
	res, err := r.db.ExecContext(ctx,
		rebind(`UPDATE runs SET title=$1, started_on=$2, completed_on=$3, miles=$4, location=$5 WHERE id=$6`),
		run.Title,
		formatTime(run.StartedOn),
		formatTime(run.CompletedOn),
		run.Miles,
		string(run.Location),
		id,
	)
	if err != nil {
		return fmt.Errorf("update run %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrRunNotFound
	}
	observability.RecordRunPersisted("update", time.Now().UTC())
	return nil
}

// Delete removes the run; a missing id is not an error.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, rebind(`DELETE FROM runs WHERE id = $1`), id)
	if err != nil {
		return fmt.Errorf("delete run %d: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		observability.RecordRunPersisted("delete", time.Now().UTC())
	}
	return nil
}

// Count returns the number of stored runs.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Ping checks the database handle.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRun(ctx context.Context, db execer, run domain.Run) (int64, error) {
	res, err := db.ExecContext(ctx,
		rebind(`INSERT INTO runs (title, started_on, completed_on, miles, location) VALUES ($1,$2,$3,$4,$5)`),
		run.Title,
		formatTime(run.StartedOn),
		formatTime(run.CompletedOn),
		run.Miles,
		string(run.Location),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

func (r *Repository) queryRuns(ctx context.Context, query string, args ...any) ([]domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, rebind(query), args...)
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
	return results, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (domain.Run, error) {
	var (
		run                    domain.Run
		startedOn, completedOn string
		location               string
	)
	if err := scanner.Scan(&run.ID, &run.Title, &startedOn, &completedOn, &run.Miles, &location); err != nil {
		return domain.Run{}, err
	}
	var err error
	if run.StartedOn, err = time.Parse(timeLayout, startedOn); err != nil {
		return domain.Run{}, fmt.Errorf("parse started_on: %w", err)
	}
	if run.CompletedOn, err = time.Parse(timeLayout, completedOn); err != nil {
		return domain.Run{}, fmt.Errorf("parse completed_on: %w", err)
	}
	run.Location = domain.Location(location)
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
