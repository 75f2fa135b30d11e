package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseFloatList parses either a comma-separated list ("0,0.1,0.2") or an
// inclusive range "min:max:step". An empty string yields nil.
func ParseFloatList(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.Contains(s, ":") {
		return parseFloatRange(s)
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseIntList parses a comma-separated list of ints or an inclusive
// "min:max:step" range.
func ParseIntList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.Contains(s, ":") {
		return parseIntRange(s)
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func splitRange(s string) ([3]string, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return [3]string{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}
	return [3]string{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])}, nil
}

func parseFloatRange(s string) ([]float64, error) {
	parts, err := splitRange(s)
	if err != nil {
		return nil, err
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid range value %q: %w", p, err)
		}
		vals[i] = v
	}
	min, max, step := vals[0], vals[1], vals[2]
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %f", step)
	}
	if max < min {
		return nil, fmt.Errorf("range max %f is below min %f", max, min)
	}
	n := int(math.Floor((max-min)/step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		// Multiply rather than accumulate so long ranges don't drift.
		out[i] = math.Round((min+float64(i)*step)*1e9) / 1e9
	}
	return out, nil
}

func parseIntRange(s string) ([]int, error) {
	parts, err := splitRange(s)
	if err != nil {
		return nil, err
	}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid range value %q: %w", p, err)
		}
		vals[i] = v
	}
	min, max, step := vals[0], vals[1], vals[2]
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %d", step)
	}
	if max < min {
		return nil, fmt.Errorf("range max %d is below min %d", max, min)
	}
	var out []int
	for v := min; v <= max; v += step {
		out = append(out, v)
	}
	return out, nil
}

// ExpandGrid builds per-slot track and shower distortion vectors covering
// every (track, shower) combination. Slot i receives
// track[i/len(shower)] and shower[i%len(shower)], so the shower value varies
// fastest. Both inputs must be non-empty.
func ExpandGrid(track, shower []float64) (trackPerSlot, showerPerSlot []float64, err error) {
	if len(track) == 0 || len(shower) == 0 {
		return nil, nil, fmt.Errorf("grid needs at least one track and one shower value, got %d and %d", len(track), len(shower))
	}
	n := len(track) * len(shower)
	trackPerSlot = make([]float64, n)
	showerPerSlot = make([]float64, n)
	for i := 0; i < n; i++ {
		trackPerSlot[i] = track[i/len(shower)]
		showerPerSlot[i] = shower[i%len(shower)]
	}
	return trackPerSlot, showerPerSlot, nil
}
