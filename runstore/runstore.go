// Package runstore keeps the workflow's run history in SQLite: one row per
// run with its bucket counts and final status, so past runs stay queryable
// from the CLI and MCP tools after their report directories are pruned.
package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded workflow run.
type Run struct {
	ID         string `json:"id"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at,omitempty"`
	Status     string `json:"status"`
	Pages      int    `json:"pages"`
	Diffs      int    `json:"diffs"`
	Added      int    `json:"added"`
	Removed    int    `json:"removed"`
	Unchanged  int    `json:"unchanged"`
	ReportDir  string `json:"report_dir,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Run statuses.
const (
	StatusRunning = "running"
	StatusPassed  = "passed"  // no diffs, adds, or removes
	StatusChanged = "changed" // something to review
	StatusFailed  = "failed"
)

// Store wraps the runs database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the run history database at path with the usual
// production pragmas applied.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runstore: open db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("runstore: %s: %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("runstore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS runs (
    run_id       TEXT PRIMARY KEY,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER,
    status       TEXT NOT NULL DEFAULT 'running',
    pages        INTEGER NOT NULL DEFAULT 0,
    diffs        INTEGER NOT NULL DEFAULT 0,
    added        INTEGER NOT NULL DEFAULT 0,
    removed      INTEGER NOT NULL DEFAULT 0,
    unchanged    INTEGER NOT NULL DEFAULT 0,
    report_dir   TEXT,
    error        TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs (started_at DESC);
`
	_, err := s.db.Exec(ddl)
	return err
}

// StartRun records a new run in the running state.
func (s *Store) StartRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, status) VALUES (?, ?, ?)`,
		id, time.Now().Unix(), StatusRunning)
	if err != nil {
		return fmt.Errorf("runstore: start run %s: %w", id, err)
	}
	return nil
}

// FinishRun records a completed run's bucket counts and report location.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	status := StatusPassed
	if run.Diffs+run.Added+run.Removed > 0 {
		status = StatusChanged
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, pages = ?, diffs = ?,
		       added = ?, removed = ?, unchanged = ?, report_dir = ?
		WHERE run_id = ?`,
		time.Now().Unix(), status, run.Pages, run.Diffs,
		run.Added, run.Removed, run.Unchanged, run.ReportDir, run.ID)
	if err != nil {
		return fmt.Errorf("runstore: finish run %s: %w", run.ID, err)
	}
	return requireRow(res, run.ID)
}

// FailRun records a run failure with its error text.
func (s *Store) FailRun(ctx context.Context, id string, cause error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE run_id = ?`,
		time.Now().Unix(), StatusFailed, cause.Error(), id)
	if err != nil {
		return fmt.Errorf("runstore: fail run %s: %w", id, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("runstore: unknown run %s", id)
	}
	return nil
}

// GetRun fetches one run, or nil when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx, selectRuns+` WHERE run_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("runstore: get run %s: %w", id, err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		selectRuns+` ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("runstore: list runs: %w", err)
	}
	return scanRuns(rows)
}

const selectRuns = `
	SELECT run_id, started_at, COALESCE(finished_at, 0), status, pages,
	       diffs, added, removed, unchanged, COALESCE(report_dir, ''),
	       COALESCE(error, '')
	FROM runs`

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status,
			&r.Pages, &r.Diffs, &r.Added, &r.Removed, &r.Unchanged,
			&r.ReportDir, &r.Error); err != nil {
			return nil, fmt.Errorf("runstore: scan: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
