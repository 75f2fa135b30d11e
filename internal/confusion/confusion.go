// Package confusion holds particle-identification confusion matrices: for
// each reconstructed-energy bin, the rate at which a particle of one true PDG
// code is identified as another.
package confusion

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// Entry is one cell of the matrix: a particle with TruePDG is identified as
// TestPDG with probability IDRate.
type Entry struct {
	TruePDG int     `json:"true_pdg"`
	TestPDG int     `json:"test_pdg"`
	IDRate  float64 `json:"id_rate"`
}

// ConfigInfo is a confusion matrix binned in energy. EnergyRange holds the
// lower edge of each bin; Bins[i] holds the entries of bin i.
type ConfigInfo struct {
	EnergyRange []float64 `json:"energy_range"`
	Bins        [][]Entry `json:"confusion"`
}

// New builds and validates a record from per-bin entry lists and the lower
// energy edge of each bin.
func New(entries [][]Entry, energies []float64) (*ConfigInfo, error) {
	c := &ConfigInfo{
		EnergyRange: append([]float64(nil), energies...),
		Bins:        make([][]Entry, len(entries)),
	}
	for i, bin := range entries {
		c.Bins[i] = append([]Entry(nil), bin...)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

const rateTolerance = 1e-9

// Validate checks that bins and edges line up, that edges ascend and that
// the rates of each true PDG in a bin form a sub-probability.
func (c *ConfigInfo) Validate() error {
	if len(c.EnergyRange) == 0 {
		return fmt.Errorf("confusion: energy_range is empty")
	}
	if len(c.Bins) != len(c.EnergyRange) {
		return fmt.Errorf("confusion: %d bins for %d energy edges", len(c.Bins), len(c.EnergyRange))
	}
	for i := 1; i < len(c.EnergyRange); i++ {
		if c.EnergyRange[i] <= c.EnergyRange[i-1] {
			return fmt.Errorf("confusion: energy_range not strictly ascending at %d", i)
		}
	}
	for i, bin := range c.Bins {
		sums := map[int]float64{}
		for _, e := range bin {
			if e.IDRate < 0 || e.IDRate > 1 || math.IsNaN(e.IDRate) {
				return fmt.Errorf("confusion: bin %d: rate %g for %d->%d outside [0,1]", i, e.IDRate, e.TruePDG, e.TestPDG)
			}
			sums[e.TruePDG] += e.IDRate
		}
		for pdg, s := range sums {
			if s > 1+rateTolerance {
				return fmt.Errorf("confusion: bin %d: rates for true pdg %d sum to %g", i, pdg, s)
			}
		}
	}
	return nil
}

// bin returns the index of the bin containing energy. Energies below the
// first edge fall in bin 0.
func (c *ConfigInfo) bin(energy float64) int {
	i := sort.SearchFloat64s(c.EnergyRange, energy)
	if i < len(c.EnergyRange) && c.EnergyRange[i] == energy {
		return i
	}
	return max(i-1, 0)
}

// Lookup returns the entries for truePDG in the bin containing energy.
func (c *ConfigInfo) Lookup(energy float64, truePDG int) []Entry {
	var out []Entry
	for _, e := range c.Bins[c.bin(energy)] {
		if e.TruePDG == truePDG {
			out = append(out, e)
		}
	}
	return out
}

// Misidentify picks the identified PDG of a particle given a uniform variate
// u in [0,1). Entries are walked in order accumulating IDRate; the first
// whose cumulative rate exceeds u wins. If none does the true PDG is kept.
func (c *ConfigInfo) Misidentify(energy float64, pdg int, u float64) int {
	cum := 0.0
	for _, e := range c.Bins[c.bin(energy)] {
		if e.TruePDG != pdg {
			continue
		}
		cum += e.IDRate
		if u < cum {
			return e.TestPDG
		}
	}
	return pdg
}

// LoadJSON reads a record from a JSON file and validates it.
func LoadJSON(path string) (*ConfigInfo, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read confusion config: %w", err)
	}
	var c ConfigInfo
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse confusion config JSON: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadAny loads a sqlite record, or a JSON one when path ends in .json.
func LoadAny(path string) (*ConfigInfo, error) {
	if filepath.Ext(path) == ".json" {
		return LoadJSON(path)
	}
	return Load(path)
}
