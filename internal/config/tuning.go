package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SelectionTuning holds the fixed settings every selection pipeline slot
// shares: producer labels, verbosity, topology cuts and histogram binning.
// Fields omitted from the JSON fall back to the Get* defaults, so partial
// files are safe.
type SelectionTuning struct {
	// Upstream producer labels
	FluxWeightProducer  *string `json:"flux_weight_producer,omitempty"`
	EventWeightProducer *string `json:"event_weight_producer,omitempty"`
	MCTruthProducer     *string `json:"mc_truth_producer,omitempty"`
	MCTrackProducer     *string `json:"mc_track_producer,omitempty"`
	MCShowerProducer    *string `json:"mc_shower_producer,omitempty"`

	Verbose *bool `json:"verbose,omitempty"`

	// Topology cuts
	MaxProtons      *int     `json:"max_protons,omitempty"`
	ProtonThreshold *float64 `json:"proton_threshold,omitempty"` // GeV kinetic
	TrackThreshold  *float64 `json:"track_threshold,omitempty"`  // GeV
	ShowerThreshold *float64 `json:"shower_threshold,omitempty"` // GeV

	EnergyBins []float64 `json:"energy_bins,omitempty"` // GeV, ascending edges
	Seed       *uint64   `json:"seed,omitempty"`

	// Optional confusion-matrix record applied before the topology cuts.
	ConfusionConfig *string `json:"confusion_config,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

var defaultEnergyBins = []float64{0.2, 0.35, 0.5, 0.65, 0.8, 0.95, 1.1, 1.3, 1.5, 1.75, 2.0, 3.0}

// EmptySelectionTuning returns a SelectionTuning with every field unset.
func EmptySelectionTuning() *SelectionTuning {
	return &SelectionTuning{}
}

// LoadSelectionTuning loads tuning from a JSON file no larger than 1MB.
func LoadSelectionTuning(path string) (*SelectionTuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("tuning file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat tuning file: %w", err)
	}
	if fileInfo.Size() > maxConfigSize {
		return nil, fmt.Errorf("tuning file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}

	cfg := EmptySelectionTuning()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tuning JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *SelectionTuning) Validate() error {
	if c.MaxProtons != nil && *c.MaxProtons < 0 {
		return fmt.Errorf("max_protons must be non-negative, got %d", *c.MaxProtons)
	}
	for name, v := range map[string]*float64{
		"proton_threshold": c.ProtonThreshold,
		"track_threshold":  c.TrackThreshold,
		"shower_threshold": c.ShowerThreshold,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}
	if len(c.EnergyBins) > 0 {
		if len(c.EnergyBins) < 2 {
			return fmt.Errorf("energy_bins needs at least 2 edges, got %d", len(c.EnergyBins))
		}
		if !sort.SliceIsSorted(c.EnergyBins, func(i, j int) bool { return c.EnergyBins[i] < c.EnergyBins[j] }) {
			return fmt.Errorf("energy_bins must be ascending")
		}
		for i := 1; i < len(c.EnergyBins); i++ {
			if c.EnergyBins[i] == c.EnergyBins[i-1] {
				return fmt.Errorf("energy_bins has duplicate edge %g", c.EnergyBins[i])
			}
		}
	}
	for name, v := range map[string]*string{
		"flux_weight_producer":  c.FluxWeightProducer,
		"event_weight_producer": c.EventWeightProducer,
		"mc_truth_producer":     c.MCTruthProducer,
		"mc_track_producer":     c.MCTrackProducer,
		"mc_shower_producer":    c.MCShowerProducer,
	} {
		if v != nil && *v == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}
	return nil
}

func stringOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// GetFluxWeightProducer returns the flux weight producer label or "eventweight".
func (c *SelectionTuning) GetFluxWeightProducer() string {
	return stringOr(c.FluxWeightProducer, "eventweight")
}

// GetEventWeightProducer returns the event weight producer label or "mcweight".
func (c *SelectionTuning) GetEventWeightProducer() string {
	return stringOr(c.EventWeightProducer, "mcweight")
}

// GetMCTruthProducer returns the truth producer label or "generator".
func (c *SelectionTuning) GetMCTruthProducer() string {
	return stringOr(c.MCTruthProducer, "generator")
}

// GetMCTrackProducer returns the MC track producer label or "mcreco".
func (c *SelectionTuning) GetMCTrackProducer() string {
	return stringOr(c.MCTrackProducer, "mcreco")
}

// GetMCShowerProducer returns the MC shower producer label or "mcreco".
func (c *SelectionTuning) GetMCShowerProducer() string {
	return stringOr(c.MCShowerProducer, "mcreco")
}

// GetVerbose returns the verbose value or the default.
func (c *SelectionTuning) GetVerbose() bool {
	if c.Verbose == nil {
		return true // default
	}
	return *c.Verbose
}

// GetMaxProtons returns the proton multiplicity accepted by the Np topology.
func (c *SelectionTuning) GetMaxProtons() int {
	if c.MaxProtons == nil {
		return 2 // default
	}
	return *c.MaxProtons
}

// GetProtonThreshold returns the proton kinetic energy threshold in GeV.
func (c *SelectionTuning) GetProtonThreshold() float64 {
	if c.ProtonThreshold == nil {
		return 0.04 // default
	}
	return *c.ProtonThreshold
}

// GetTrackThreshold returns the minimum visible track energy in GeV.
func (c *SelectionTuning) GetTrackThreshold() float64 {
	if c.TrackThreshold == nil {
		return 0.02 // default
	}
	return *c.TrackThreshold
}

// GetShowerThreshold returns the minimum visible shower energy in GeV.
func (c *SelectionTuning) GetShowerThreshold() float64 {
	if c.ShowerThreshold == nil {
		return 0.03 // default
	}
	return *c.ShowerThreshold
}

// GetEnergyBins returns a copy of the histogram bin edges.
func (c *SelectionTuning) GetEnergyBins() []float64 {
	if len(c.EnergyBins) == 0 {
		return append([]float64(nil), defaultEnergyBins...)
	}
	return append([]float64(nil), c.EnergyBins...)
}

// GetSeed returns the base RNG seed.
func (c *SelectionTuning) GetSeed() uint64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetConfusionConfig returns the confusion-matrix path or "".
func (c *SelectionTuning) GetConfusionConfig() string {
	return stringOr(c.ConfusionConfig, "")
}
