package events

import "fmt"

// PDG codes used by the selection.
const (
	PDGElectron = 11
	PDGNuE      = 12
	PDGMuon     = 13
	PDGNuMu     = 14
	PDGPhoton   = 22
	PDGPion     = 211
	PDGPi0      = 111
	PDGProton   = 2212
	PDGNeutron  = 2112
)

// Interaction current of a neutrino.
const (
	CC = 0
	NC = 1
)

// ID identifies an event within a run.
type ID struct {
	Run    int `json:"run"`
	SubRun int `json:"subrun"`
	Event  int `json:"event"`
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d:%d", id.Run, id.SubRun, id.Event)
}

// Neutrino is the generator truth for one interaction.
type Neutrino struct {
	PDG    int        `json:"pdg"`
	Energy float64    `json:"energy"` // GeV
	CCNC   int        `json:"ccnc"`
	Mode   int        `json:"mode,omitempty"`
	Vertex [3]float64 `json:"vertex,omitempty"` // cm
}

// IsCC reports whether the interaction was charged current.
func (n Neutrino) IsCC() bool { return n.CCNC == CC }

// Particle is a simulated track or shower deposit.
type Particle struct {
	PDG    int     `json:"pdg"`
	Energy float64 `json:"energy"` // GeV; kinetic for protons
	Length float64 `json:"length,omitempty"`
}

// Event is one event record. Product collections are keyed by the label of
// the producer that made them, so a consumer asks for e.g. the "generator"
// truth or the "mcreco" tracks.
type Event struct {
	ID      ID                              `json:"id"`
	Truth   map[string][]Neutrino           `json:"truth,omitempty"`
	Tracks  map[string][]Particle           `json:"tracks,omitempty"`
	Showers map[string][]Particle           `json:"showers,omitempty"`
	Weights map[string]map[string][]float64 `json:"weights,omitempty"`
}

// TruthFrom returns the neutrinos made by producer, or nil.
func (e *Event) TruthFrom(producer string) []Neutrino { return e.Truth[producer] }

// TracksFrom returns the tracks made by producer, or nil.
func (e *Event) TracksFrom(producer string) []Particle { return e.Tracks[producer] }

// ShowersFrom returns the showers made by producer, or nil.
func (e *Event) ShowersFrom(producer string) []Particle { return e.Showers[producer] }

// CentralWeight multiplies the first (central value) entry of every weight
// made by producer. It returns 1 when the producer is absent.
func (e *Event) CentralWeight(producer string) float64 {
	w := 1.0
	for _, vals := range e.Weights[producer] {
		if len(vals) > 0 {
			w *= vals[0]
		}
	}
	return w
}
