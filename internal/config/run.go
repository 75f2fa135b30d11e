package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("invalid run configuration")

// ConfigError describes one violated run configuration invariant.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid run configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// RunConfig is the process-wide description of one harness run. It is
// validated once and never mutated afterwards; workers receive copies.
type RunConfig struct {
	NSelections int      `json:"n_selections" yaml:"n_selections"`
	NTrials     int      `json:"n_trials" yaml:"n_trials"`
	Workers     int      `json:"workers" yaml:"workers"`
	InputFiles  []string `json:"input_files" yaml:"input_files"`
	OutputFiles []string `json:"output_files" yaml:"output_files"`

	// Per-slot vectors: empty means "default for every slot", otherwise
	// exactly NSelections values broadcast to every worker.
	DatasetIDs                      []int     `json:"dataset_ids,omitempty" yaml:"dataset_ids,omitempty"`
	TrackEnergyDistortion           []float64 `json:"track_energy_distortion,omitempty" yaml:"track_energy_distortion,omitempty"`
	TrackEnergyDistortionByPercent  bool      `json:"track_energy_distortion_by_percent,omitempty" yaml:"track_energy_distortion_by_percent,omitempty"`
	ShowerEnergyDistortion          []float64 `json:"shower_energy_distortion,omitempty" yaml:"shower_energy_distortion,omitempty"`
	ShowerEnergyDistortionByPercent bool      `json:"shower_energy_distortion_by_percent,omitempty" yaml:"shower_energy_distortion_by_percent,omitempty"`

	AcceptNp     bool `json:"accept_np,omitempty" yaml:"accept_np,omitempty"`
	AcceptNTrack bool `json:"accept_ntrack,omitempty" yaml:"accept_ntrack,omitempty"`
}

// DefaultRunConfig mirrors the command line defaults: one selection, one
// trial, one worker.
func DefaultRunConfig() RunConfig {
	return RunConfig{NSelections: 1, NTrials: 1, Workers: 1}
}

const maxConfigSize = 1 * 1024 * 1024 // 1MB

// LoadRunConfig reads a run configuration from a .json, .yaml or .yml file.
// Fields omitted from the file keep the DefaultRunConfig values. The result is
// not validated; callers validate after applying command line overrides.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	cleanPath := filepath.Clean(path)

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to stat run config: %w", err)
	}
	if fileInfo.Size() > maxConfigSize {
		return cfg, fmt.Errorf("run config too large: %d bytes (max %d)", fileInfo.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read run config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse run config JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse run config YAML: %w", err)
		}
	default:
		return cfg, fmt.Errorf("run config must be .json, .yaml or .yml, got %q", ext)
	}
	return cfg, nil
}

// Clone returns a deep copy.
func (c RunConfig) Clone() RunConfig {
	out := c
	out.InputFiles = append([]string(nil), c.InputFiles...)
	out.OutputFiles = append([]string(nil), c.OutputFiles...)
	out.DatasetIDs = append([]int(nil), c.DatasetIDs...)
	out.TrackEnergyDistortion = append([]float64(nil), c.TrackEnergyDistortion...)
	out.ShowerEnergyDistortion = append([]float64(nil), c.ShowerEnergyDistortion...)
	return out
}

// EffectiveWorkers is the number of workers that will actually run: the
// requested count capped by the number of input files, then reduced to the
// number of non-empty ceil(F/W)-sized slices. No worker is ever created with
// zero input files.
func (c RunConfig) EffectiveWorkers() int {
	f := len(c.InputFiles)
	w := c.Workers
	if w > f {
		w = f
	}
	if w < 1 {
		return 0
	}
	n := (f + w - 1) / w
	return (f + n - 1) / n
}

// Validate checks every shape invariant. It returns the first violation as a
// *ConfigError.
func (c RunConfig) Validate() error {
	if c.NSelections < 1 {
		return &ConfigError{Field: "n_selections", Reason: fmt.Sprintf("must be at least 1, got %d", c.NSelections)}
	}
	if c.NTrials < 1 {
		return &ConfigError{Field: "n_trials", Reason: fmt.Sprintf("must be at least 1, got %d", c.NTrials)}
	}
	if c.Workers < 1 {
		return &ConfigError{Field: "workers", Reason: fmt.Sprintf("must be at least 1, got %d", c.Workers)}
	}
	if len(c.InputFiles) == 0 {
		return &ConfigError{Field: "input_files", Reason: "at least one input file is required"}
	}

	if err := checkSlotVector("dataset_ids", len(c.DatasetIDs), c.NSelections); err != nil {
		return err
	}
	if err := checkSlotVector("track_energy_distortion", len(c.TrackEnergyDistortion), c.NSelections); err != nil {
		return err
	}
	if err := checkSlotVector("shower_energy_distortion", len(c.ShowerEnergyDistortion), c.NSelections); err != nil {
		return err
	}

	workers := c.EffectiveWorkers()
	if want := c.NSelections * workers; len(c.OutputFiles) != want {
		return &ConfigError{
			Field: "output_files",
			Reason: fmt.Sprintf("got %d, want n_selections*workers = %d*%d = %d",
				len(c.OutputFiles), c.NSelections, workers, want),
		}
	}

	seen := make(map[string]int, len(c.OutputFiles))
	for i, out := range c.OutputFiles {
		if out == "" {
			return &ConfigError{Field: "output_files", Reason: fmt.Sprintf("entry %d is empty", i)}
		}
		key := filepath.Clean(out)
		if j, dup := seen[key]; dup {
			return &ConfigError{Field: "output_files", Reason: fmt.Sprintf("entries %d and %d both name %q", j, i, out)}
		}
		seen[key] = i
	}
	return nil
}

func checkSlotVector(field string, got, nSelections int) error {
	if got == 0 || got == nSelections {
		return nil
	}
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf("has %d values, want 0 or n_selections=%d", got, nSelections),
	}
}

// Slot resolves the per-slot parameters for slot k. It assumes Validate
// has passed.
func (c RunConfig) Slot(k int) SlotParams {
	var p SlotParams
	if len(c.DatasetIDs) > 0 {
		p.DatasetID = PerSlot(c.DatasetIDs[k])
	}
	if len(c.TrackEnergyDistortion) > 0 {
		p.TrackEnergy = PerSlot(Distortion{
			Magnitude: c.TrackEnergyDistortion[k],
			ByPercent: c.TrackEnergyDistortionByPercent,
		})
	}
	if len(c.ShowerEnergyDistortion) > 0 {
		p.ShowerEnergy = PerSlot(Distortion{
			Magnitude: c.ShowerEnergyDistortion[k],
			ByPercent: c.ShowerEnergyDistortionByPercent,
		})
	}
	return p
}

// Slots resolves every slot in order.
func (c RunConfig) Slots() []SlotParams {
	out := make([]SlotParams, c.NSelections)
	for k := range out {
		out[k] = c.Slot(k)
	}
	return out
}
