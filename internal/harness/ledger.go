package harness

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/eventsweep/internal/config"
	"github.com/banshee-data/eventsweep/internal/db"
)

// LedgerRecorder writes runs and worker outcomes to a db.RunStore.
type LedgerRecorder struct {
	Store *db.RunStore
}

func (l *LedgerRecorder) RunStarted(r *Report, cfg config.RunConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding run config: %w", err)
	}
	return l.Store.InsertRun(db.RunRecord{
		RunID:            r.RunID,
		StartedAt:        r.StartedAt,
		Status:           db.RunStatusRunning,
		RequestedWorkers: r.RequestedWorkers,
		EffectiveWorkers: r.EffectiveWorkers,
		NSelections:      r.NSelections,
		Config:           raw,
	})
}

func (l *LedgerRecorder) RunFinished(r *Report, runErr error) error {
	for _, w := range r.Workers {
		rec := db.WorkerRecord{
			RunID:  r.RunID,
			Worker: w.Worker,
			Status: db.RunStatusComplete,
			Inputs: w.Inputs,
			Events: w.Events,
		}
		if w.Err != nil {
			rec.Status = db.RunStatusFailed
			rec.FailedPhase = string(w.Err.Phase)
			if w.Err.Slot >= 0 {
				slot := w.Err.Slot
				rec.FailedSlot = &slot
			}
			rec.Error = w.Err.Err.Error()
		}
		if err := l.Store.InsertWorker(rec); err != nil {
			return err
		}
	}

	status, msg := db.RunStatusComplete, ""
	if runErr != nil {
		status, msg = db.RunStatusFailed, runErr.Error()
	}
	return l.Store.FinishRun(r.RunID, status, r.CompletedAt, msg)
}
