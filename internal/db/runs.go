package db

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

//go:embed migrations/*.sql
var ledgerMigrations embed.FS

// Run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// RunRecord is one harness invocation in the ledger.
type RunRecord struct {
	RunID            string
	StartedAt        time.Time
	CompletedAt      *time.Time
	Status           string
	RequestedWorkers int
	EffectiveWorkers int
	NSelections      int
	Config           json.RawMessage
	Error            string
}

// WorkerRecord is the outcome of one worker within a run.
type WorkerRecord struct {
	RunID       string
	Worker      int
	Status      string
	Inputs      int
	Events      int
	FailedPhase string
	FailedSlot  *int
	Error       string
}

// RunStore persists runs and their worker outcomes.
type RunStore struct {
	db *DB
}

// OpenLedger opens the ledger database at path and migrates it.
func OpenLedger(path string) (*RunStore, error) {
	d, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.MigrateUp(ledgerMigrations, "migrations"); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrating ledger %s: %w", path, err)
	}
	return &RunStore{db: d}, nil
}

// Close closes the underlying database.
func (s *RunStore) Close() error { return s.db.Close() }

// InsertRun records the start of a run.
func (s *RunStore) InsertRun(r RunRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (
			run_id, started_at, status, requested_workers, effective_workers,
			n_selections, config_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.Status,
		r.RequestedWorkers,
		r.EffectiveWorkers,
		r.NSelections,
		string(r.Config),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", r.RunID, err)
	}
	return nil
}

// FinishRun sets the terminal status of a run.
func (s *RunStore) FinishRun(runID, status string, completedAt time.Time, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ?, error = ?
		WHERE run_id = ?`,
		status, completedAt.UTC().Format(time.RFC3339Nano), NullStr(errMsg), runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// InsertWorker records the outcome of one worker.
func (s *RunStore) InsertWorker(w WorkerRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO run_workers (
			run_id, worker, status, inputs, events, failed_phase, failed_slot, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.RunID, w.Worker, w.Status, w.Inputs, w.Events,
		NullStr(w.FailedPhase), w.FailedSlot, NullStr(w.Error))
	if err != nil {
		return fmt.Errorf("inserting worker %d of run %s: %w", w.Worker, w.RunID, err)
	}
	return nil
}

const runColumns = `run_id, started_at, completed_at, status, requested_workers,
	effective_workers, n_selections, config_json, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var r RunRecord
	var startedAt string
	var completedAt, errMsg sql.NullString
	var cfg string
	if err := row.Scan(&r.RunID, &startedAt, &completedAt, &r.Status, &r.RequestedWorkers,
		&r.EffectiveWorkers, &r.NSelections, &cfg, &errMsg); err != nil {
		return nil, err
	}

	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at of run %s: %w", r.RunID, err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at of run %s: %w", r.RunID, err)
		}
		r.CompletedAt = &t
	}
	r.Config = json.RawMessage(cfg)
	r.Error = errMsg.String
	return &r, nil
}

// GetRun returns a run by id.
func (s *RunStore) GetRun(runID string) (*RunRecord, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found: %w", runID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return r, nil
}

// ListRuns returns the most recently started runs first. limit <= 0 means
// all runs.
func (s *RunStore) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// SchemaVersion reports the applied ledger migration version.
func (s *RunStore) SchemaVersion() (version uint, dirty bool, err error) {
	return s.db.MigrateVersion(ledgerMigrations, "migrations")
}

// ListWorkers returns the worker outcomes of a run ordered by worker index.
func (s *RunStore) ListWorkers(runID string) ([]WorkerRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, worker, status, inputs, events, failed_phase, failed_slot, error
		FROM run_workers WHERE run_id = ? ORDER BY worker`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing workers of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []WorkerRecord
	for rows.Next() {
		var w WorkerRecord
		var phase, errMsg sql.NullString
		var slot sql.NullInt64
		if err := rows.Scan(&w.RunID, &w.Worker, &w.Status, &w.Inputs, &w.Events, &phase, &slot, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning worker of run %s: %w", runID, err)
		}
		w.FailedPhase = phase.String
		if slot.Valid {
			v := int(slot.Int64)
			w.FailedSlot = &v
		}
		w.Error = errMsg.String
		out = append(out, w)
	}
	return out, rows.Err()
}
