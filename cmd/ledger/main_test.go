package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eventsweep/internal/db"
)

func seedLedger(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := db.OpenLedger(path)
	require.NoError(t, err)
	defer s.Close()

	started := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertRun(db.RunRecord{
		RunID: "r1", StartedAt: started, Status: db.RunStatusRunning,
		RequestedWorkers: 4, EffectiveWorkers: 3, NSelections: 2, Config: json.RawMessage(`{}`),
	}))
	slot := 1
	require.NoError(t, s.InsertWorker(db.WorkerRecord{RunID: "r1", Worker: 0, Status: "complete", Inputs: 2, Events: 10}))
	require.NoError(t, s.InsertWorker(db.WorkerRecord{RunID: "r1", Worker: 1, Status: "failed", Inputs: 2, Events: 4, FailedPhase: "Analyze", FailedSlot: &slot, Error: "boom"}))
	require.NoError(t, s.FinishRun("r1", db.RunStatusFailed, started.Add(time.Minute), "worker 1 failed"))
	return path
}

func TestRun_Commands(t *testing.T) {
	t.Parallel()
	path := seedLedger(t)

	t.Run("runs", func(t *testing.T) {
		var out, errOut bytes.Buffer
		require.Equal(t, 0, run([]string{"-db", path, "runs"}, &out, &errOut), errOut.String())
		assert.Contains(t, out.String(), "r1  2026-10-19T09:00:00Z  failed")
		assert.Contains(t, out.String(), "3/4 workers")
	})

	t.Run("show", func(t *testing.T) {
		var out, errOut bytes.Buffer
		require.Equal(t, 0, run([]string{"-db", path, "show", "r1"}, &out, &errOut), errOut.String())
		s := out.String()
		assert.Contains(t, s, "completed:  2026-10-19T09:01:00Z (1m0s)")
		assert.Contains(t, s, "worker 1: failed, 2 inputs, 4 events, failed in Analyze slot 1")
		assert.Equal(t, 2, strings.Count(s, "  worker "))
	})

	t.Run("status", func(t *testing.T) {
		var out, errOut bytes.Buffer
		require.Equal(t, 0, run([]string{"-db", path, "status"}, &out, &errOut), errOut.String())
		assert.Contains(t, out.String(), "schema version: 1")
	})
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()
	path := seedLedger(t)
	var out bytes.Buffer

	assert.Equal(t, 2, run([]string{"-db", path}, &out, &out))
	assert.Equal(t, 2, run([]string{"-db", path, "bogus"}, &out, &out))
	assert.Equal(t, 2, run([]string{"-db", path, "show"}, &out, &out))
	assert.Equal(t, 1, run([]string{"-db", path, "show", "missing"}, &out, &out))
	assert.Equal(t, 1, run([]string{"-db", filepath.Join(t.TempDir(), "none.db"), "runs"}, &out, &out))
}
