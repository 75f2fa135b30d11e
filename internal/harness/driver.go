package harness

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/eventsweep/internal/config"
	"github.com/banshee-data/eventsweep/internal/events"
	"github.com/banshee-data/eventsweep/internal/monitoring"
	"github.com/banshee-data/eventsweep/internal/output"
)

// OutputOpener creates the destination for one output path.
type OutputOpener func(path string) (output.Destination, error)

// Recorder is notified at the start and end of a run. Recorder errors are
// logged and otherwise ignored.
type Recorder interface {
	RunStarted(r *Report, cfg config.RunConfig) error
	RunFinished(r *Report, runErr error) error
}

// Driver validates a run configuration, opens the output destinations and
// runs one worker per input partition.
type Driver struct {
	Config      config.RunConfig
	Tuning      *config.SelectionTuning // nil uses the defaults
	NewPipeline Factory

	// OpenSource defaults to events.Open, OpenOutput to output.Create.
	OpenSource SourceOpener
	OpenOutput OutputOpener

	Log      *monitoring.SyncLog // nil logs to stdout
	Recorder Recorder            // optional
	Now      func() time.Time    // defaults to time.Now
}

// Report summarizes a run.
type Report struct {
	RunID            string
	StartedAt        time.Time
	CompletedAt      time.Time
	RequestedWorkers int
	EffectiveWorkers int
	NSelections      int
	Workers          []WorkerResult
}

// Failed returns the results of the workers that did not finish.
func (r *Report) Failed() []WorkerResult {
	var out []WorkerResult
	for _, w := range r.Workers {
		if w.Err != nil {
			out = append(out, w)
		}
	}
	return out
}

// Events returns the number of events analyzed over all workers.
func (r *Report) Events() int {
	n := 0
	for _, w := range r.Workers {
		n += w.Events
	}
	return n
}

// Run executes the configured run. A configuration error is returned before
// any destination is opened, with a nil Report. Otherwise Run waits for every
// worker and returns the Report together with the joined worker errors.
func (d *Driver) Run() (*Report, error) {
	cfg := d.Config.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tuning := d.Tuning
	if tuning == nil {
		tuning = config.EmptySelectionTuning()
	}
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("selection tuning: %w", err)
	}
	if d.NewPipeline == nil {
		return nil, errors.New("harness: no pipeline factory")
	}

	openSource := d.OpenSource
	if openSource == nil {
		openSource = events.Open
	}
	openOutput := d.OpenOutput
	if openOutput == nil {
		openOutput = func(path string) (output.Destination, error) { return output.Create(path) }
	}
	log := d.Log
	if log == nil {
		log = monitoring.NewSyncLog(nil)
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}

	dests, err := openOutputs(cfg.OutputFiles, openOutput)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:            uuid.NewString(),
		StartedAt:        now(),
		RequestedWorkers: cfg.Workers,
		EffectiveWorkers: cfg.EffectiveWorkers(),
		NSelections:      cfg.NSelections,
	}
	if d.Recorder != nil {
		if err := d.Recorder.RunStarted(report, cfg); err != nil {
			monitoring.Logf("run %s: recording start: %v", report.RunID, err)
		}
	}

	inputs := PartitionFiles(cfg.InputFiles, cfg.Workers)
	outputs := PartitionOutputs(dests, cfg.NSelections, len(inputs))
	slots := cfg.Slots()

	workers := make([]*worker, len(inputs))
	for i := range workers {
		workers[i] = &worker{
			item: WorkItem{
				Worker:       i,
				Inputs:       inputs[i],
				Outputs:      outputs[i],
				Slots:        append([]config.SlotParams(nil), slots...),
				NTrials:      cfg.NTrials,
				AcceptNp:     cfg.AcceptNp,
				AcceptNTrack: cfg.AcceptNTrack,
			},
			tuning:      tuning,
			newPipeline: d.NewPipeline,
			openSource:  openSource,
			log:         log,
		}
	}

	report.Workers = make([]WorkerResult, len(workers))
	if len(workers) == 1 {
		report.Workers[0] = workers[0].run()
	} else {
		var wg sync.WaitGroup
		for i, w := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				report.Workers[i] = w.run()
			}()
		}
		wg.Wait()
	}

	var errs []error
	for _, res := range report.Workers {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	if err := closeOutputs(dests); err != nil {
		errs = append(errs, err)
	}
	runErr := errors.Join(errs...)

	report.CompletedAt = now()
	if d.Recorder != nil {
		if err := d.Recorder.RunFinished(report, runErr); err != nil {
			monitoring.Logf("run %s: recording finish: %v", report.RunID, err)
		}
	}
	return report, runErr
}

// openOutputs opens every path in order. On failure the destinations already
// opened are closed and nothing is returned.
func openOutputs(paths []string, open OutputOpener) ([]output.Destination, error) {
	dests := make([]output.Destination, 0, len(paths))
	for _, p := range paths {
		d, err := open(p)
		if err != nil {
			if cerr := closeOutputs(dests); cerr != nil {
				monitoring.Logf("closing outputs after failed open: %v", cerr)
			}
			return nil, fmt.Errorf("opening output %s: %w", p, err)
		}
		dests = append(dests, d)
	}
	return dests, nil
}

func closeOutputs(dests []output.Destination) error {
	var errs []error
	for _, d := range dests {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing output %s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}
