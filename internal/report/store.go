package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Compile-time interface guard.
var _ Recorder = (*Store)(nil)

// Store persists run records in a local SQLite database so that separately
// invoked pipeline steps (one process per CI stage) accumulate into the same
// report.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the report database at the given path and
// ensures the schema exists.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Single writer; WAL lets the email step read while a step writes.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS run_records (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		step TEXT NOT NULL,
		action TEXT NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create run_records: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_run_records_run
		ON run_records(run_id, at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create run_records index: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record inserts one run record.
func (s *Store) Record(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_records (id, run_id, step, action, target, status, detail, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Step, rec.Action, rec.Target, rec.Status, rec.Detail,
		rec.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// ListRun returns every record of a run, oldest first.
func (s *Store) ListRun(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step, action, target, status, detail, at
		 FROM run_records WHERE run_id = ? ORDER BY at ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var at string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Step, &rec.Action, &rec.Target, &rec.Status, &rec.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if rec.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse record timestamp %q: %w", at, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LatestRunID returns the run id of the most recent record, or empty when
// the store holds nothing.
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	var runID string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id FROM run_records ORDER BY at DESC LIMIT 1`,
	).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query latest run: %w", err)
	}
	return runID, nil
}
