// Command tsselect runs the event selection over a list of event files with
// several configured selections per worker and a fixed pool of workers.
//
// Usage:
//
//	tsselect [flags] input-file...
//
// Exit status is 2 for configuration errors and 1 when any worker failed.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/banshee-data/eventsweep/internal/config"
	"github.com/banshee-data/eventsweep/internal/db"
	"github.com/banshee-data/eventsweep/internal/harness"
	"github.com/banshee-data/eventsweep/internal/monitoring"
	"github.com/banshee-data/eventsweep/internal/selection"
	"github.com/banshee-data/eventsweep/internal/version"
)

const (
	exitOK          = 0
	exitRunFailed   = 1
	exitConfigError = 2
)

// stringList is a flag that may be repeated and also accepts comma lists.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*s = append(*s, p)
		}
	}
	return nil
}

type options struct {
	configPath     string
	tuningPath     string
	outputs        stringList
	outputTemplate string
	nSelections    int
	nTrials        int
	workers        int
	datasetIDs     string
	trackDist      string
	trackByPct     bool
	showerDist     string
	showerByPct    bool
	acceptNp       bool
	acceptNTrack   bool
	gridTrack      string
	gridShower     string
	ledgerPath     string
	dryRun         bool
	showVersion    bool

	set map[string]bool
}

func newFlagSet(o *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("tsselect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: tsselect [flags] input-file...\n\nFlags:\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&o.configPath, "config", "", "Run configuration file (.json, .yaml, .yml); flags override it")
	fs.StringVar(&o.tuningPath, "tuning", "", "Selection tuning JSON file")
	fs.Var(&o.outputs, "o", "Output file; repeat or comma-separate, n*workers in worker-major order")
	fs.StringVar(&o.outputTemplate, "output-template", "", "Generate outputs from a pattern: %[1]d is the worker, %[2]d the slot")
	fs.IntVar(&o.nSelections, "n", 1, "Number of selections per worker")
	fs.IntVar(&o.nTrials, "t", 1, "Number of smearing trials per selection")
	fs.IntVar(&o.workers, "T", 1, "Number of worker threads")
	fs.StringVar(&o.datasetIDs, "d", "", "Dataset id per selection (comma list or min:max:step)")
	fs.StringVar(&o.trackDist, "track-energy-distortion", "", "Track energy distortion per selection (comma list or min:max:step)")
	fs.BoolVar(&o.trackByPct, "track-edist-by-percent", false, "Interpret track distortion as a fraction of the energy")
	fs.StringVar(&o.showerDist, "shower-energy-distortion", "", "Shower energy distortion per selection (comma list or min:max:step)")
	fs.BoolVar(&o.showerByPct, "shower-edist-by-percent", false, "Interpret shower distortion as a fraction of the energy")
	fs.BoolVar(&o.acceptNp, "accept-np", false, "Accept events with up to max_protons protons")
	fs.BoolVar(&o.acceptNTrack, "accept-ntrk", false, "Accept events with extra non-proton tracks")
	fs.StringVar(&o.gridTrack, "grid-track", "", "Track distortions of a track x shower grid; sets one selection per grid point")
	fs.StringVar(&o.gridShower, "grid-shower", "", "Shower distortions of a track x shower grid")
	fs.StringVar(&o.ledgerPath, "ledger", "", "Record the run in this sqlite ledger")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Validate and print the work plan without running")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	return fs
}

func main() {
	monitoring.SetLogger(log.New(os.Stderr, "tsselect: ", 0).Printf)
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "tsselect: ", 0)

	var o options
	fs := newFlagSet(&o, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfigError
	}
	o.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	if o.showVersion {
		fmt.Fprintln(stdout, "tsselect", version.String())
		return exitOK
	}

	cfg, err := buildConfig(&o, fs.Args())
	if err != nil {
		logger.Printf("%v", err)
		return exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		logger.Printf("%v", err)
		return exitConfigError
	}

	tuning := config.EmptySelectionTuning()
	if o.tuningPath != "" {
		if tuning, err = config.LoadSelectionTuning(o.tuningPath); err != nil {
			logger.Printf("%v", err)
			return exitConfigError
		}
	}

	if o.dryRun {
		printPlan(stdout, cfg)
		return exitOK
	}

	driver := &harness.Driver{
		Config:      cfg,
		Tuning:      tuning,
		NewPipeline: (&selection.Factory{Tuning: tuning}).New,
		Log:         monitoring.NewSyncLog(stdout),
	}
	if o.ledgerPath != "" {
		store, err := db.OpenLedger(o.ledgerPath)
		if err != nil {
			logger.Printf("%v", err)
			return exitConfigError
		}
		defer store.Close()
		driver.Recorder = &harness.LedgerRecorder{Store: store}
	}

	report, err := driver.Run()
	if report == nil {
		logger.Printf("%v", err)
		if errors.Is(err, config.ErrInvalidConfig) {
			return exitConfigError
		}
		return exitRunFailed
	}

	logger.Printf("run %s: %d workers, %d events, %d failed", report.RunID, report.EffectiveWorkers, report.Events(), len(report.Failed()))
	if err != nil {
		logger.Printf("%v", err)
		return exitRunFailed
	}
	return exitOK
}

// buildConfig starts from the config file (or defaults), then applies every
// flag that was set explicitly and the positional input files.
func buildConfig(o *options, inputs []string) (config.RunConfig, error) {
	cfg := config.DefaultRunConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadRunConfig(o.configPath); err != nil {
			return cfg, err
		}
	}

	if o.set["n"] {
		cfg.NSelections = o.nSelections
	}
	if o.set["t"] {
		cfg.NTrials = o.nTrials
	}
	if o.set["T"] {
		cfg.Workers = o.workers
	}
	if len(inputs) > 0 {
		cfg.InputFiles = append([]string(nil), inputs...)
	}
	if o.set["d"] {
		ids, err := config.ParseIntList(o.datasetIDs)
		if err != nil {
			return cfg, fmt.Errorf("-d: %w", err)
		}
		cfg.DatasetIDs = ids
	}
	if o.set["track-energy-distortion"] {
		v, err := config.ParseFloatList(o.trackDist)
		if err != nil {
			return cfg, fmt.Errorf("-track-energy-distortion: %w", err)
		}
		cfg.TrackEnergyDistortion = v
	}
	if o.set["shower-energy-distortion"] {
		v, err := config.ParseFloatList(o.showerDist)
		if err != nil {
			return cfg, fmt.Errorf("-shower-energy-distortion: %w", err)
		}
		cfg.ShowerEnergyDistortion = v
	}
	if o.set["track-edist-by-percent"] {
		cfg.TrackEnergyDistortionByPercent = o.trackByPct
	}
	if o.set["shower-edist-by-percent"] {
		cfg.ShowerEnergyDistortionByPercent = o.showerByPct
	}
	if o.set["accept-np"] {
		cfg.AcceptNp = o.acceptNp
	}
	if o.set["accept-ntrk"] {
		cfg.AcceptNTrack = o.acceptNTrack
	}

	if o.gridTrack != "" || o.gridShower != "" {
		track, err := config.ParseFloatList(o.gridTrack)
		if err != nil {
			return cfg, fmt.Errorf("-grid-track: %w", err)
		}
		shower, err := config.ParseFloatList(o.gridShower)
		if err != nil {
			return cfg, fmt.Errorf("-grid-shower: %w", err)
		}
		cfg.TrackEnergyDistortion, cfg.ShowerEnergyDistortion, err = config.ExpandGrid(track, shower)
		if err != nil {
			return cfg, err
		}
		if !o.set["n"] {
			cfg.NSelections = len(cfg.TrackEnergyDistortion)
		}
	}

	if len(o.outputs) > 0 {
		cfg.OutputFiles = append([]string(nil), o.outputs...)
	} else if o.outputTemplate != "" {
		cfg.OutputFiles = expandOutputs(o.outputTemplate, cfg)
	}
	return cfg, nil
}

// expandOutputs names one output per (worker, slot) in worker-major order.
func expandOutputs(tmpl string, cfg config.RunConfig) []string {
	var out []string
	for w := 0; w < cfg.EffectiveWorkers(); w++ {
		for k := 0; k < cfg.NSelections; k++ {
			out = append(out, fmt.Sprintf(tmpl, w, k))
		}
	}
	return out
}

func printPlan(w io.Writer, cfg config.RunConfig) {
	plan := harness.Plan(cfg)
	fmt.Fprintf(w, "%d selections x %d workers (requested %d), %d trials, %d input files\n",
		cfg.NSelections, len(plan), cfg.Workers, cfg.NTrials, len(cfg.InputFiles))
	for k, p := range cfg.Slots() {
		fmt.Fprintf(w, "slot %d: dataset=%s track=%s shower=%s\n", k, p.DatasetID, p.TrackEnergy, p.ShowerEnergy)
	}
	for _, a := range plan {
		fmt.Fprintf(w, "worker %d: %d inputs %v -> %v\n", a.Worker, len(a.Inputs), a.Inputs, a.Outputs)
	}
}
