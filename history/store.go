// Package history keeps a SQLite ledger of loop runs and their iterations
// so past runs can be listed after the process exits.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/martinemde/ralphloop/loop"
)

// DefaultPath is the ledger location relative to the workspace root.
const DefaultPath = ".ralph/history.db"

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Run is a recorded run. FinishedAt is nil while the run is in progress or
// when the process died before it finished.
type Run struct {
	ID                string     `json:"id"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	Prompt            string     `json:"prompt"`
	CompletionPromise string     `json:"completion_promise"`
	MaxIterations     int        `json:"max_iterations"`
	Outcome           string     `json:"outcome,omitempty"`
	Iterations        int        `json:"iterations"`
}

// Store is a loop.Recorder backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ loop.Recorder = (*Store)(nil)

// Open opens or creates the ledger at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: create data dir: %w", err)
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// One writer; SQLite serialises anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id                 TEXT PRIMARY KEY,
			started_at         TEXT NOT NULL,
			finished_at        TEXT,
			prompt             TEXT NOT NULL,
			completion_promise TEXT NOT NULL,
			max_iterations     INTEGER NOT NULL,
			outcome            TEXT NOT NULL DEFAULT '',
			iterations         INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS iterations (
			run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			iteration   INTEGER NOT NULL,
			started_at  TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			verdict     TEXT NOT NULL,
			last_line   TEXT NOT NULL,
			all_passed  INTEGER NOT NULL,
			errors      INTEGER NOT NULL,
			failures    INTEGER NOT NULL,
			narrative   TEXT NOT NULL,
			PRIMARY KEY (run_id, iteration)
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// StartRun records a new run.
func (s *Store) StartRun(ctx context.Context, run loop.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, prompt, completion_promise, max_iterations) VALUES (?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.StartedAt), run.Prompt, run.CompletionPromise, run.MaxIterations)
	if err != nil {
		return fmt.Errorf("history: start run %s: %w", run.ID, err)
	}
	return nil
}

// RecordIteration stores one iteration summary. Recording the same
// iteration twice replaces the earlier row.
func (s *Store) RecordIteration(ctx context.Context, it loop.IterationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO iterations
			(run_id, iteration, started_at, duration_ms, verdict, last_line, all_passed, errors, failures, narrative)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.RunID, it.Iteration, formatTime(it.StartedAt), it.Duration.Milliseconds(), string(it.Verdict),
		it.LastLine, it.AllPassed, it.Errors, it.Failures, it.Narrative)
	if err != nil {
		return fmt.Errorf("history: record iteration %d of %s: %w", it.Iteration, it.RunID, err)
	}
	return nil
}

// FinishRun stamps the terminal outcome on a run.
func (s *Store) FinishRun(ctx context.Context, runID string, outcome loop.Outcome, iterations int, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, outcome = ?, iterations = ? WHERE id = ?`,
		formatTime(finishedAt), string(outcome), iterations, runID)
	if err != nil {
		return fmt.Errorf("history: finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("history: finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Runs returns the most recent runs first. limit <= 0 means 20.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, prompt, completion_promise, max_iterations, outcome, iterations
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	return runs, nil
}

// Get returns one run by ID.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, prompt, completion_promise, max_iterations, outcome, iterations
		 FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("history: %s: %w", id, ErrNotFound)
	}
	return r, err
}

// Iterations returns a run's iterations in order.
func (s *Store) Iterations(ctx context.Context, runID string) ([]loop.IterationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT iteration, started_at, duration_ms, verdict, last_line, all_passed, errors, failures, narrative
		 FROM iterations WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: list iterations: %w", err)
	}
	defer rows.Close()

	out := []loop.IterationRecord{}
	for rows.Next() {
		var (
			it         loop.IterationRecord
			startedAt  string
			durationMs int64
			verdict    string
		)
		if err := rows.Scan(&it.Iteration, &startedAt, &durationMs, &verdict, &it.LastLine,
			&it.AllPassed, &it.Errors, &it.Failures, &it.Narrative); err != nil {
			return nil, fmt.Errorf("history: scan iteration: %w", err)
		}
		it.RunID = runID
		it.StartedAt = parseTime(startedAt)
		it.Duration = time.Duration(durationMs) * time.Millisecond
		it.Verdict = loop.Verdict(verdict)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list iterations: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r          Run
		startedAt  string
		finishedAt sql.NullString
	)
	if err := sc.Scan(&r.ID, &startedAt, &finishedAt, &r.Prompt, &r.CompletionPromise,
		&r.MaxIterations, &r.Outcome, &r.Iterations); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("history: scan run: %w", err)
	}
	r.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		r.FinishedAt = &t
	}
	return r, nil
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
