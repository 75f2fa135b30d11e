package harness

import (
	"github.com/banshee-data/eventsweep/internal/config"
	"github.com/banshee-data/eventsweep/internal/events"
	"github.com/banshee-data/eventsweep/internal/monitoring"
	"github.com/banshee-data/eventsweep/internal/output"
)

// Pipeline is one configured selection. The worker calls Initialize, then
// Configure, then AnalyzeEvent once per event, then Finalize. An error from
// any call stops the owning worker.
type Pipeline interface {
	Initialize(inputs []string, log *monitoring.SyncLog) error
	Configure(s Settings) error
	AnalyzeEvent(ev *events.Event) error
	Finalize() error
}

// Factory creates the pipeline for (worker, slot) bound to dest. dest is
// owned by the driver; the pipeline must not close it.
type Factory func(worker, slot int, dest output.Destination) (Pipeline, error)

// Settings is the configuration handed to one pipeline instance.
type Settings struct {
	Worker int
	Slot   int

	FluxWeightProducer  string
	EventWeightProducer string
	MCTruthProducer     string
	MCTrackProducer     string
	MCShowerProducer    string

	Verbose      bool
	NTrials      int
	AcceptNp     bool
	MaxProtons   int
	AcceptNTrack bool
	Seed         uint64

	DatasetID              config.Param[int]
	TrackEnergyDistortion  config.Param[config.Distortion]
	ShowerEnergyDistortion config.Param[config.Distortion]
}

// settingsFor builds the Settings of one slot. Producer labels and the other
// fixed values come from tuning; only the three Params vary per slot.
func settingsFor(item *WorkItem, slot int, tuning *config.SelectionTuning) Settings {
	p := item.Slots[slot]
	return Settings{
		Worker:                 item.Worker,
		Slot:                   slot,
		FluxWeightProducer:     tuning.GetFluxWeightProducer(),
		EventWeightProducer:    tuning.GetEventWeightProducer(),
		MCTruthProducer:        tuning.GetMCTruthProducer(),
		MCTrackProducer:        tuning.GetMCTrackProducer(),
		MCShowerProducer:       tuning.GetMCShowerProducer(),
		Verbose:                tuning.GetVerbose(),
		NTrials:                item.NTrials,
		AcceptNp:               item.AcceptNp,
		MaxProtons:             tuning.GetMaxProtons(),
		AcceptNTrack:           item.AcceptNTrack,
		Seed:                   tuning.GetSeed(),
		DatasetID:              p.DatasetID,
		TrackEnergyDistortion:  p.TrackEnergy,
		ShowerEnergyDistortion: p.ShowerEnergy,
	}
}
