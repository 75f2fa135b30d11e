package report

import (
	"fmt"
	"math"
)

// Grid holds one value per (track distortion, shower distortion) pair.
// Values[r][c] belongs to shower distortion Shower[r] and track distortion
// Track[c].
type Grid struct {
	Track  []float64
	Shower []float64
	Values [][]float64
}

// BuildGrid arranges per-slot values into a grid. Slot i holds track
// distortion track[i/len(shower)] and shower distortion
// shower[i%len(shower)], the same order config.ExpandGrid produces.
func BuildGrid(track, shower, values []float64) (*Grid, error) {
	if len(track) == 0 || len(shower) == 0 {
		return nil, fmt.Errorf("grid needs at least one track and one shower distortion")
	}
	if want := len(track) * len(shower); len(values) != want {
		return nil, fmt.Errorf("grid of %dx%d needs %d values, got %d", len(track), len(shower), want, len(values))
	}
	g := &Grid{
		Track:  append([]float64(nil), track...),
		Shower: append([]float64(nil), shower...),
		Values: make([][]float64, len(shower)),
	}
	for r := range g.Values {
		g.Values[r] = make([]float64, len(track))
	}
	for i, v := range values {
		g.Values[i%len(shower)][i/len(shower)] = v
	}
	return g, nil
}

// Dims, Z, X and Y implement plotter.GridXYZ on cell indices, so the grid
// draws with equal cell sizes whatever the distortion spacing.
func (g *Grid) Dims() (c, r int)   { return len(g.Track), len(g.Shower) }
func (g *Grid) Z(c, r int) float64 { return g.Values[r][c] }
func (g *Grid) X(c int) float64    { return float64(c) }
func (g *Grid) Y(r int) float64    { return float64(r) }

// At returns the value for track index t and shower index s.
func (g *Grid) At(t, s int) float64 { return g.Values[s][t] }

// Range returns the smallest and largest finite value.
func (g *Grid) Range() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, row := range g.Values {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	return lo, hi
}
