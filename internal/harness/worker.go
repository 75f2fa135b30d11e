package harness

import (
	"errors"
	"fmt"

	"github.com/banshee-data/eventsweep/internal/config"
	"github.com/banshee-data/eventsweep/internal/events"
	"github.com/banshee-data/eventsweep/internal/monitoring"
	"github.com/banshee-data/eventsweep/internal/output"
)

// Phase is a step of the worker lifecycle.
type Phase string

const (
	PhaseInitialize Phase = "Initialize"
	PhaseConfigure  Phase = "Setup"
	PhaseAnalyze    Phase = "Analyze"
	PhaseFinalize   Phase = "Finalize"
)

// ErrPipelinePanic is wrapped by the WorkerError of a pipeline that panicked.
var ErrPipelinePanic = errors.New("pipeline panicked")

// WorkerError reports the phase and slot in which a worker stopped. Slot is
// -1 when the failure was not tied to one slot.
type WorkerError struct {
	Worker int
	Phase  Phase
	Slot   int
	Err    error
}

func (e *WorkerError) Error() string {
	if e.Slot < 0 {
		return fmt.Sprintf("worker %d: %s: %v", e.Worker, e.Phase, e.Err)
	}
	return fmt.Sprintf("worker %d: %s slot %d: %v", e.Worker, e.Phase, e.Slot, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// WorkItem is everything one worker needs. It is built by the driver and
// never shared between workers.
type WorkItem struct {
	Worker  int
	Inputs  []string
	Outputs []output.Destination
	Slots   []config.SlotParams

	NTrials      int
	AcceptNp     bool
	AcceptNTrack bool
}

// WorkerResult is the outcome of one worker.
type WorkerResult struct {
	Worker    int
	Inputs    int
	Events    int
	Finalized bool
	Err       *WorkerError
}

// SourceOpener opens an event source over an ordered list of files.
type SourceOpener func(paths []string) (events.Source, error)

type worker struct {
	item        WorkItem
	tuning      *config.SelectionTuning
	newPipeline Factory
	openSource  SourceOpener
	log         *monitoring.SyncLog

	phase     Phase
	slot      int
	pipelines []Pipeline
	result    WorkerResult
}

// run drives the worker through its phases. It never panics; a pipeline
// panic is reported as a WorkerError wrapping ErrPipelinePanic.
func (w *worker) run() (res WorkerResult) {
	w.result = WorkerResult{Worker: w.item.Worker, Inputs: len(w.item.Inputs)}
	w.slot = -1

	defer func() {
		if r := recover(); r != nil {
			w.result.Err = &WorkerError{
				Worker: w.item.Worker,
				Phase:  w.phase,
				Slot:   w.slot,
				Err:    fmt.Errorf("%w: %v", ErrPipelinePanic, r),
			}
		}
		// Pipelines are released at worker end whatever the outcome.
		w.pipelines = nil
		res = w.result
	}()

	steps := []struct {
		phase Phase
		fn    func() error
	}{
		{PhaseInitialize, w.initialize},
		{PhaseConfigure, w.configure},
		{PhaseAnalyze, w.analyze},
		{PhaseFinalize, w.finalize},
	}
	for _, step := range steps {
		w.enter(step.phase)
		if err := step.fn(); err != nil {
			w.result.Err = &WorkerError{Worker: w.item.Worker, Phase: w.phase, Slot: w.slot, Err: err}
			return w.result
		}
	}
	w.result.Finalized = true
	return w.result
}

func (w *worker) enter(p Phase) {
	w.phase = p
	w.slot = -1
	w.log.Printf("worker %d: %s", w.item.Worker, p)
}

func (w *worker) initialize() error {
	w.pipelines = make([]Pipeline, len(w.item.Slots))
	for k := range w.pipelines {
		w.slot = k
		p, err := w.newPipeline(w.item.Worker, k, w.item.Outputs[k])
		if err != nil {
			return fmt.Errorf("creating pipeline: %w", err)
		}
		w.pipelines[k] = p
	}
	for k, p := range w.pipelines {
		w.slot = k
		inputs := append([]string(nil), w.item.Inputs...)
		if err := p.Initialize(inputs, w.log); err != nil {
			return err
		}
	}
	return nil
}

func (w *worker) configure() error {
	for k, p := range w.pipelines {
		w.slot = k
		if err := p.Configure(settingsFor(&w.item, k, w.tuning)); err != nil {
			return err
		}
	}
	return nil
}

func (w *worker) analyze() (err error) {
	src, err := w.openSource(w.item.Inputs)
	if err != nil {
		return fmt.Errorf("opening event source: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			w.slot = -1
			err = fmt.Errorf("closing event source: %w", cerr)
		}
	}()

	for src.Next() {
		ev := src.Event()
		for k, p := range w.pipelines {
			w.slot = k
			if err := p.AnalyzeEvent(ev); err != nil {
				return fmt.Errorf("event %d (%s): %w", w.result.Events, ev.ID, err)
			}
		}
		w.result.Events++
	}
	w.slot = -1
	if err := src.Err(); err != nil {
		return fmt.Errorf("reading events: %w", err)
	}
	return nil
}

func (w *worker) finalize() error {
	for k, p := range w.pipelines {
		w.slot = k
		if err := p.Finalize(); err != nil {
			return err
		}
	}
	return nil
}
