package config

import "fmt"

// Param is a per-slot parameter value that is either left at the pipeline's
// built-in default or set explicitly for the slot.
type Param[T any] struct {
	value T
	set   bool
}

// Default returns a Param that leaves the pipeline default in place.
func Default[T any]() Param[T] {
	return Param[T]{}
}

// PerSlot returns a Param carrying an explicit value.
func PerSlot[T any](v T) Param[T] {
	return Param[T]{value: v, set: true}
}

// Get returns the explicit value and true, or the zero value and false.
func (p Param[T]) Get() (T, bool) {
	return p.value, p.set
}

// IsSet reports whether an explicit value is carried.
func (p Param[T]) IsSet() bool {
	return p.set
}

// Or returns the explicit value, or def when the Param is Default.
func (p Param[T]) Or(def T) T {
	if p.set {
		return p.value
	}
	return def
}

func (p Param[T]) String() string {
	if !p.set {
		return "default"
	}
	return fmt.Sprintf("%v", p.value)
}

// Distortion is an energy-resolution distortion. With ByPercent the magnitude
// is a fraction of the particle energy (0.1 = 10%); otherwise it is an
// absolute width in GeV.
type Distortion struct {
	Magnitude float64
	ByPercent bool
}

// Sigma returns the Gaussian width to apply to a particle of energy e.
func (d Distortion) Sigma(e float64) float64 {
	if d.ByPercent {
		return d.Magnitude * e
	}
	return d.Magnitude
}

func (d Distortion) String() string {
	if d.ByPercent {
		return fmt.Sprintf("%g%%", d.Magnitude*100)
	}
	return fmt.Sprintf("%gGeV", d.Magnitude)
}

// SlotParams holds the resolved per-slot parameters. Every worker receives an
// identical set for a given slot index.
type SlotParams struct {
	DatasetID    Param[int]
	TrackEnergy  Param[Distortion]
	ShowerEnergy Param[Distortion]
}
