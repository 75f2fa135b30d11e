// Package output holds the destinations selection pipelines write their
// results to. Each destination is owned by exactly one pipeline instance.
package output

import (
	"fmt"
	"sort"
	"sync"
)

// Spectrum is a reconstructed-energy histogram sampled over trials.
// Trials[t][b] is the weighted content of bin b in trial t; Mean and StdDev
// are per bin across trials and Covariance is the row-major bin covariance.
type Spectrum struct {
	Channel    string
	Edges      []float64
	Trials     [][]float64
	Mean       []float64
	StdDev     []float64
	Covariance []float64
}

// NBins returns the number of bins, one less than the number of edges.
func (s Spectrum) NBins() int {
	if len(s.Edges) < 2 {
		return 0
	}
	return len(s.Edges) - 1
}

// Validate checks that every array has a shape consistent with Edges.
func (s Spectrum) Validate() error {
	if s.Channel == "" {
		return fmt.Errorf("spectrum channel is empty")
	}
	n := s.NBins()
	if n == 0 {
		return fmt.Errorf("spectrum %s: need at least 2 edges, got %d", s.Channel, len(s.Edges))
	}
	for t, trial := range s.Trials {
		if len(trial) != n {
			return fmt.Errorf("spectrum %s: trial %d has %d bins, want %d", s.Channel, t, len(trial), n)
		}
	}
	if len(s.Mean) != n || len(s.StdDev) != n {
		return fmt.Errorf("spectrum %s: mean/stddev have %d/%d bins, want %d", s.Channel, len(s.Mean), len(s.StdDev), n)
	}
	if len(s.Covariance) != 0 && len(s.Covariance) != n*n {
		return fmt.Errorf("spectrum %s: covariance has %d entries, want %d", s.Channel, len(s.Covariance), n*n)
	}
	return nil
}

// Efficiency is the selected over total weighted event count for a channel.
type Efficiency struct {
	Channel       string
	Selected      float64
	Total         float64
	SelectedCount int
	TotalCount    int
}

// Value returns Selected/Total, or 0 when nothing was seen.
func (e Efficiency) Value() float64 {
	if e.Total == 0 {
		return 0
	}
	return e.Selected / e.Total
}

// Destination receives the results of one pipeline instance.
type Destination interface {
	Name() string
	WriteMetadata(md map[string]string) error
	WriteSpectrum(s Spectrum) error
	WriteEfficiency(e Efficiency) error
	Close() error
}

// Memory is a Destination that keeps everything in memory.
type Memory struct {
	name string

	mu         sync.Mutex
	metadata   map[string]string
	spectra    map[string]Spectrum
	efficiency map[string]Efficiency
	closed     bool
}

// NewMemory returns an empty in-memory destination.
func NewMemory(name string) *Memory {
	return &Memory{
		name:       name,
		metadata:   map[string]string{},
		spectra:    map[string]Spectrum{},
		efficiency: map[string]Efficiency{},
	}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) WriteMetadata(md map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%s: %w", m.name, ErrClosed)
	}
	for k, v := range md {
		m.metadata[k] = v
	}
	return nil
}

func (m *Memory) WriteSpectrum(s Spectrum) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%s: %w", m.name, ErrClosed)
	}
	m.spectra[s.Channel] = s
	return nil
}

func (m *Memory) WriteEfficiency(e Efficiency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%s: %w", m.name, ErrClosed)
	}
	m.efficiency[e.Channel] = e
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Metadata returns a copy of the written metadata.
func (m *Memory) Metadata() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.metadata))
	for k, v := range m.metadata {
		out[k] = v
	}
	return out
}

// Spectrum returns the spectrum written for channel.
func (m *Memory) Spectrum(channel string) (Spectrum, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spectra[channel]
	return s, ok
}

// Efficiency returns the efficiency written for channel.
func (m *Memory) Efficiency(channel string) (Efficiency, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.efficiency[channel]
	return e, ok
}

// Channels returns the channels that have a spectrum, sorted.
func (m *Memory) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.spectra))
	for c := range m.spectra {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
