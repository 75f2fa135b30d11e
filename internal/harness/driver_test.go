package harness

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eventsweep/internal/config"
	"github.com/banshee-data/eventsweep/internal/db"
	"github.com/banshee-data/eventsweep/internal/events"
	"github.com/banshee-data/eventsweep/internal/monitoring"
	"github.com/banshee-data/eventsweep/internal/output"
	"github.com/banshee-data/eventsweep/internal/testutil"
)

// call is one pipeline method invocation seen by the fake.
type call struct {
	Worker, Slot int
	Method       string
	Event        int
}

type recorder struct {
	mu       sync.Mutex
	calls    []call
	settings map[[2]int]Settings
	inputs   map[[2]int][]string
	dests    map[[2]int]output.Destination
}

func newRecorder() *recorder {
	return &recorder{
		settings: map[[2]int]Settings{},
		inputs:   map[[2]int][]string{},
		dests:    map[[2]int]output.Destination{},
	}
}

func (r *recorder) add(c call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// forWorker returns the calls of one worker in order.
func (r *recorder) forWorker(w int) []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []call
	for _, c := range r.calls {
		if c.Worker == w {
			out = append(out, c)
		}
	}
	return out
}

func (r *recorder) count(w int, method string) int {
	n := 0
	for _, c := range r.forWorker(w) {
		if c.Method == method {
			n++
		}
	}
	return n
}

type fakePipeline struct {
	rec          *recorder
	worker, slot int
	seen         int
	// fail is consulted on every call; a non-nil result is returned.
	fail func(worker, slot int, method string, seen int) error
}

func (p *fakePipeline) check(method string) error {
	if p.fail == nil {
		return nil
	}
	return p.fail(p.worker, p.slot, method, p.seen)
}

func (p *fakePipeline) Initialize(inputs []string, log *monitoring.SyncLog) error {
	p.rec.mu.Lock()
	p.rec.inputs[[2]int{p.worker, p.slot}] = inputs
	p.rec.mu.Unlock()
	p.rec.add(call{p.worker, p.slot, "Initialize", -1})
	return p.check("Initialize")
}

func (p *fakePipeline) Configure(s Settings) error {
	p.rec.mu.Lock()
	p.rec.settings[[2]int{p.worker, p.slot}] = s
	p.rec.mu.Unlock()
	p.rec.add(call{p.worker, p.slot, "Configure", -1})
	return p.check("Configure")
}

func (p *fakePipeline) AnalyzeEvent(ev *events.Event) error {
	p.seen++
	p.rec.add(call{p.worker, p.slot, "Analyze", ev.ID.Event})
	return p.check("Analyze")
}

func (p *fakePipeline) Finalize() error {
	p.rec.add(call{p.worker, p.slot, "Finalize", -1})
	return p.check("Finalize")
}

// fixture is a run over in-memory event files and destinations.
type fixture struct {
	rec     *recorder
	files   map[string][]*events.Event
	dests   map[string]*output.Memory
	opened  []string
	mu      sync.Mutex
	logBuf  bytes.Buffer
	driver  *Driver
	failure func(worker, slot int, method string, seen int) error
}

// newFixture builds nFiles input files of perFile events each and the
// matching nSel*effectiveWorkers output names.
func newFixture(t *testing.T, nFiles, perFile, workers, nSel int) *fixture {
	t.Helper()
	f := &fixture{
		rec:   newRecorder(),
		files: map[string][]*events.Event{},
		dests: map[string]*output.Memory{},
	}
	var inputs []string
	for i := 0; i < nFiles; i++ {
		name := fmt.Sprintf("in%02d.jsonl", i)
		f.files[name] = testutil.Sequence(i*perFile, perFile)
		inputs = append(inputs, name)
	}
	cfg := config.RunConfig{NSelections: nSel, NTrials: 1, Workers: workers, InputFiles: inputs}
	for i := 0; i < nSel*cfg.EffectiveWorkers(); i++ {
		cfg.OutputFiles = append(cfg.OutputFiles, fmt.Sprintf("out%02d.db", i))
	}

	f.driver = &Driver{
		Config: cfg,
		NewPipeline: func(worker, slot int, dest output.Destination) (Pipeline, error) {
			f.rec.mu.Lock()
			f.rec.dests[[2]int{worker, slot}] = dest
			f.rec.mu.Unlock()
			return &fakePipeline{rec: f.rec, worker: worker, slot: slot, fail: f.failure}, nil
		},
		OpenSource: func(paths []string) (events.Source, error) {
			var evs []*events.Event
			for _, p := range paths {
				evs = append(evs, f.files[p]...)
			}
			return events.NewSliceSource(evs), nil
		},
		OpenOutput: func(path string) (output.Destination, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			m := output.NewMemory(path)
			f.dests[path] = m
			f.opened = append(f.opened, path)
			return m, nil
		},
		Log: monitoring.NewSyncLog(&f.logBuf),
	}
	return f
}

func TestDriver_PartitionsInputsAndBindsOutputs(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10, 5, 3, 2)

	report, err := f.driver.Run()
	require.NoError(t, err)
	require.Len(t, report.Workers, 3)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.EffectiveWorkers)
	assert.Equal(t, 50, report.Events())
	assert.Empty(t, report.Failed())

	wantInputs := [][]string{
		{"in00.jsonl", "in01.jsonl", "in02.jsonl", "in03.jsonl"},
		{"in04.jsonl", "in05.jsonl", "in06.jsonl", "in07.jsonl"},
		{"in08.jsonl", "in09.jsonl"},
	}
	for w, want := range wantInputs {
		assert.Equal(t, len(want), report.Workers[w].Inputs)
		assert.Equal(t, len(want)*5, report.Workers[w].Events)
		assert.True(t, report.Workers[w].Finalized)
		for slot := 0; slot < 2; slot++ {
			key := [2]int{w, slot}
			if diff := cmp.Diff(want, f.rec.inputs[key]); diff != "" {
				t.Errorf("worker %d slot %d inputs (-want +got):\n%s", w, slot, diff)
			}
			assert.Equal(t, fmt.Sprintf("out%02d.db", w*2+slot), f.rec.dests[key].Name())
		}
	}

	// Every destination was closed after the join.
	for name, m := range f.dests {
		assert.True(t, m.Closed(), name)
	}
}

func TestDriver_BroadcastsPerSlotParams(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 4, 2, 2, 2)
	f.driver.Config.DatasetIDs = []int{5, 7}
	f.driver.Config.TrackEnergyDistortion = []float64{0.1, 0.2}
	f.driver.Config.TrackEnergyDistortionByPercent = true
	f.driver.Config.AcceptNp = true

	_, err := f.driver.Run()
	require.NoError(t, err)

	for w := 0; w < 2; w++ {
		for slot, want := range []int{5, 7} {
			s := f.rec.settings[[2]int{w, slot}]
			got, ok := s.DatasetID.Get()
			assert.True(t, ok)
			assert.Equal(t, want, got, "worker %d slot %d", w, slot)

			d, ok := s.TrackEnergyDistortion.Get()
			assert.True(t, ok)
			assert.Equal(t, config.Distortion{Magnitude: []float64{0.1, 0.2}[slot], ByPercent: true}, d)
			assert.False(t, s.ShowerEnergyDistortion.IsSet())

			assert.True(t, s.AcceptNp)
			assert.False(t, s.AcceptNTrack)
			assert.Equal(t, "generator", s.MCTruthProducer)
			assert.Equal(t, "mcreco", s.MCTrackProducer)
			assert.Equal(t, w, s.Worker)
			assert.Equal(t, slot, s.Slot)
		}
	}
}

func TestDriver_ConfigErrorOpensNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, 1, 3, 2)
	f.driver.Config.OutputFiles = f.driver.Config.OutputFiles[:5] // need 6

	report, err := f.driver.Run()
	assert.Nil(t, report)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "output_files", cfgErr.Field)

	assert.Empty(t, f.opened)
	assert.Empty(t, f.rec.calls)
	assert.Zero(t, f.logBuf.Len())
}

func TestDriver_OutputOpenFailureClosesOpened(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, 1, 2, 2)
	open := f.driver.OpenOutput
	f.driver.OpenOutput = func(path string) (output.Destination, error) {
		if path == "out02.db" {
			return nil, errors.New("disk full")
		}
		return open(path)
	}

	report, err := f.driver.Run()
	assert.Nil(t, report)
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, []string{"out00.db", "out01.db"}, f.opened)
	for _, m := range f.dests {
		assert.True(t, m.Closed())
	}
	assert.Empty(t, f.rec.calls, "no worker may start")
}

func TestDriver_FailureIsolatedToOwningWorker(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 4, 100, 4, 2)
	f.failure = func(worker, slot int, method string, seen int) error {
		if worker == 2 && slot == 1 && method == "Analyze" && seen == 50 {
			return errors.New("bad event")
		}
		return nil
	}

	report, err := f.driver.Run()
	require.Error(t, err)
	require.NotNil(t, report)

	var werr *WorkerError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, 2, werr.Worker)
	assert.Equal(t, PhaseAnalyze, werr.Phase)
	assert.Equal(t, 1, werr.Slot)
	assert.ErrorContains(t, err, "bad event")

	for _, w := range []int{0, 1, 3} {
		assert.True(t, report.Workers[w].Finalized, "worker %d", w)
		assert.Nil(t, report.Workers[w].Err)
		assert.Equal(t, 100, report.Workers[w].Events)
		assert.Equal(t, 2, f.rec.count(w, "Finalize"))
	}

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Worker)
	assert.False(t, failed[0].Finalized)
	assert.Equal(t, 49, failed[0].Events)
	assert.Zero(t, f.rec.count(2, "Finalize"), "no slot of a failed worker is finalized")
	// Slot 0 saw event 50, slot 1 failed on it, event 51 was never delivered.
	assert.Equal(t, 100, f.rec.count(2, "Analyze"))

	// Outputs are still closed.
	for _, m := range f.dests {
		assert.True(t, m.Closed())
	}
}

func TestDriver_SequentialFanOut(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, 3, 1, 3)

	_, err := f.driver.Run()
	require.NoError(t, err)

	calls := f.rec.forWorker(0)
	var want []call
	for k := 0; k < 3; k++ {
		want = append(want, call{0, k, "Initialize", -1})
	}
	for k := 0; k < 3; k++ {
		want = append(want, call{0, k, "Configure", -1})
	}
	for ev := 0; ev < 6; ev++ {
		for k := 0; k < 3; k++ {
			want = append(want, call{0, k, "Analyze", ev})
		}
	}
	for k := 0; k < 3; k++ {
		want = append(want, call{0, k, "Finalize", -1})
	}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
}

func TestDriver_PhaseLog(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, 2, 3, 1)

	_, err := f.driver.Run()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(f.logBuf.String()), "\n")
	assert.Len(t, lines, 12)
	for w := 0; w < 3; w++ {
		var got []string
		prefix := fmt.Sprintf("worker %d: ", w)
		for _, l := range lines {
			if strings.HasPrefix(l, prefix) {
				got = append(got, strings.TrimPrefix(l, prefix))
			}
		}
		assert.Equal(t, []string{"Initialize", "Setup", "Analyze", "Finalize"}, got)
	}
}

func TestDriver_FailurePhases(t *testing.T) {
	t.Parallel()
	tests := []struct {
		method string
		phase  Phase
	}{
		{"Initialize", PhaseInitialize},
		{"Configure", PhaseConfigure},
		{"Finalize", PhaseFinalize},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, 1, 2, 1, 2)
			f.failure = func(_, slot int, method string, _ int) error {
				if slot == 0 && method == tt.method {
					return errors.New("nope")
				}
				return nil
			}

			report, err := f.driver.Run()
			var werr *WorkerError
			require.True(t, errors.As(err, &werr))
			assert.Equal(t, tt.phase, werr.Phase)
			assert.Equal(t, 0, werr.Slot)
			assert.False(t, report.Workers[0].Finalized)

			// No later phase ran.
			lines := strings.Split(strings.TrimSpace(f.logBuf.String()), "\n")
			assert.Equal(t, "worker 0: "+string(tt.phase), lines[len(lines)-1])
		})
	}
}

func TestDriver_SourceError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, 1, 1, 1)
	f.driver.OpenSource = func([]string) (events.Source, error) {
		return nil, errors.New("no such format")
	}

	_, err := f.driver.Run()
	var werr *WorkerError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, PhaseAnalyze, werr.Phase)
	assert.Equal(t, -1, werr.Slot)
	assert.Equal(t, "worker 0: Analyze: opening event source: no such format", werr.Error())
}

func TestDriver_PanicBecomesWorkerError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, 3, 2, 1)
	f.failure = func(worker, _ int, method string, seen int) error {
		if worker == 1 && method == "Analyze" && seen == 2 {
			panic("index out of range")
		}
		return nil
	}

	report, err := f.driver.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPipelinePanic)
	assert.ErrorContains(t, err, "index out of range")
	assert.True(t, report.Workers[0].Finalized)
	require.NotNil(t, report.Workers[1].Err)
	assert.Equal(t, PhaseAnalyze, report.Workers[1].Err.Phase)
	assert.Equal(t, 0, report.Workers[1].Err.Slot)
}

func TestDriver_FactoryError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1, 1, 1, 2)
	f.driver.NewPipeline = func(worker, slot int, dest output.Destination) (Pipeline, error) {
		return nil, errors.New("unknown selection")
	}

	_, err := f.driver.Run()
	var werr *WorkerError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, PhaseInitialize, werr.Phase)
	assert.Equal(t, 0, werr.Slot)
}

func TestDriver_RequiresFactory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1, 1, 1, 1)
	f.driver.NewPipeline = nil
	_, err := f.driver.Run()
	assert.Error(t, err)
	assert.Empty(t, f.opened)
}

func TestDriver_RejectsBadTuning(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1, 1, 1, 1)
	bad := -1
	f.driver.Tuning = &config.SelectionTuning{MaxProtons: &bad}
	_, err := f.driver.Run()
	assert.ErrorContains(t, err, "max_protons")
	assert.Empty(t, f.opened)
}

func TestDriver_WritesLedger(t *testing.T) {
	t.Parallel()
	store, err := db.OpenLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	f := newFixture(t, 3, 4, 3, 1)
	f.failure = func(worker, _ int, method string, _ int) error {
		if worker == 1 && method == "Finalize" {
			return errors.New("write failed")
		}
		return nil
	}
	f.driver.Recorder = &LedgerRecorder{Store: store}

	report, runErr := f.driver.Run()
	require.Error(t, runErr)

	run, err := store.GetRun(report.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusFailed, run.Status)
	assert.Equal(t, 3, run.EffectiveWorkers)
	assert.Contains(t, run.Error, "write failed")
	assert.Contains(t, string(run.Config), `"n_selections":1`)

	workers, err := store.ListWorkers(report.RunID)
	require.NoError(t, err)
	require.Len(t, workers, 3)
	assert.Equal(t, db.RunStatusComplete, workers[0].Status)
	assert.Equal(t, 4, workers[0].Events)
	assert.Equal(t, db.RunStatusFailed, workers[1].Status)
	assert.Equal(t, "Finalize", workers[1].FailedPhase)
	require.NotNil(t, workers[1].FailedSlot)
	assert.Equal(t, 0, *workers[1].FailedSlot)
}
