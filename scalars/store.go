package scalars

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
  id          TEXT PRIMARY KEY,
  name        TEXT NOT NULL,
  started_at  INTEGER NOT NULL,
  finished_at INTEGER
);
CREATE TABLE IF NOT EXISTS scalars (
  run_id  TEXT NOT NULL REFERENCES runs(id),
  tag     TEXT NOT NULL,
  step    INTEGER NOT NULL,
  value   REAL NOT NULL,
  wall    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS scalars_run_tag_step ON scalars (run_id, tag, step);
`

// Store is a SQLite-backed scalar event stream holding many runs.
type Store struct {
	db *sql.DB
}

// RunInfo describes one recorded run.
type RunInfo struct {
	ID         string
	Name       string
	StartedAt  time.Time
	FinishedAt time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens or creates the SQLite database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("scalars: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create scalar schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewRun registers a run under a fresh id and returns a Writer for it.
func (s *Store) NewRun(ctx context.Context, name string) (*Run, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, started_at) VALUES (?, ?, ?)`,
		id, name, toMillis(time.Now())); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Run{ID: id, store: s}, nil
}

// Runs lists the recorded runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, started_at, finished_at FROM runs ORDER BY started_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []RunInfo
	for rows.Next() {
		var (
			r        RunInfo
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Name, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = fromMillis(started)
		if finished.Valid {
			r.FinishedAt = fromMillis(finished.Int64)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Scalars returns the events of one run and tag ordered by step.
func (s *Store) Scalars(ctx context.Context, run, tag string) ([]Scalar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, value, wall FROM scalars WHERE run_id = ? AND tag = ? ORDER BY step, rowid`,
		run, tag)
	if err != nil {
		return nil, fmt.Errorf("query scalars: %w", err)
	}
	defer rows.Close()
	var out []Scalar
	for rows.Next() {
		sc := Scalar{Run: run, Tag: tag}
		var wall int64
		if err := rows.Scan(&sc.Step, &sc.Value, &wall); err != nil {
			return nil, fmt.Errorf("scan scalar: %w", err)
		}
		sc.Wall = fromMillis(wall)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Run writes the events of one training run into a Store.
type Run struct {
	ID    string
	store *Store
}

func (r *Run) AddScalar(tag string, value float64, step int) error {
	_, err := r.store.db.Exec(
		`INSERT INTO scalars (run_id, tag, step, value, wall) VALUES (?, ?, ?, ?, ?)`,
		r.ID, tag, step, value, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("insert scalar %s: %w", tag, err)
	}
	return nil
}

// Close marks the run finished. It does not close the Store.
func (r *Run) Close() error {
	_, err := r.store.db.Exec(`UPDATE runs SET finished_at = ? WHERE id = ?`, toMillis(time.Now()), r.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}
