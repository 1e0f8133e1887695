// Package results persists per-run trial outcomes to a local SQLite file.
//
// The in-memory sample set stays the source of truth for assertions; this
// store is the audit trail that lets a failed scenario be diagnosed after the
// processes are gone.
package results

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cregis-dev/apex/internal/verifier"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	scenario    TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	status      TEXT NOT NULL DEFAULT 'running',
	detail      TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS trials (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	router      TEXT NOT NULL,
	model       TEXT NOT NULL,
	identity    TEXT NOT NULL,
	ok          INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trials_run ON trials(run_id);
`

// Store is an append-mostly recorder of runs and trials.
type Store struct {
	db *sql.DB
}

// Open creates or opens the results database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}
	// The harness writes from one process; a single connection avoids
	// SQLITE_BUSY without WAL tuning.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply results schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// BeginRun records the start of a scenario run and returns its ID.
func (s *Store) BeginRun(scenarioName string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		`INSERT INTO runs (id, scenario, started_at) VALUES (?, ?, ?)`,
		id, scenarioName, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("record run start: %w", err)
	}
	return id, nil
}

// FinishRun closes out a run with its final status ("passed", "failed") and
// a human-readable detail line.
func (s *Store) FinishRun(runID, status, detail string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, detail = ? WHERE id = ?`,
		time.Now().UTC(), status, detail, runID,
	)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// RecordSampleSet persists every trial of a collected sample set.
func (s *Store) RecordSampleSet(runID, router, model string, set *verifier.SampleSet) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("record trials: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO trials (id, run_id, router, model, identity, ok, error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record trials: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, t := range set.Trials {
		ok := 1
		errText := ""
		if t.Err != nil {
			ok = 0
			errText = t.Err.Error()
		}
		if _, err := stmt.Exec(t.ID, runID, router, model, t.Identity, ok, errText, now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record trial %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record trials: %w", err)
	}
	return nil
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID       string
	Scenario string
	Status   string
	Detail   string
}

// Runs lists recorded runs, newest first.
func (s *Store) Runs() ([]RunSummary, error) {
	rows, err := s.db.Query(`SELECT id, scenario, status, detail FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Scenario, &r.Status, &r.Detail); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
