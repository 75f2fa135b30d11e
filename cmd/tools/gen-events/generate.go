package main

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/eventsweep/internal/events"
)

// Producer labels written into every event. They match the selection
// tuning defaults.
const (
	truthProducer  = "generator"
	recoProducer   = "mcreco"
	fluxProducer   = "eventweight"
	weightProducer = "mcweight"
)

// generator draws toy beam events: a Gamma-distributed neutrino energy, a
// leading lepton carrying a uniform fraction of it, a Poisson number of
// protons with exponential kinetic energies and a flux weight near one.
type generator struct {
	nueFraction float64
	ncFraction  float64

	rng      *rand.Rand
	nuEnergy distuv.Gamma
	leptonY  distuv.Uniform
	nProtons distuv.Poisson
	protonKE distuv.Exponential
	flux     distuv.Normal
	pions    distuv.Poisson
}

func newGenerator(seed uint64, nueFraction, ncFraction float64) *generator {
	src := rand.NewPCG(seed, 0x65766e74)
	return &generator{
		nueFraction: nueFraction,
		ncFraction:  ncFraction,
		rng:         rand.New(src),
		nuEnergy:    distuv.Gamma{Alpha: 2.5, Beta: 2.5, Src: src},
		leptonY:     distuv.Uniform{Min: 0.3, Max: 0.9, Src: src},
		nProtons:    distuv.Poisson{Lambda: 1.2, Src: src},
		protonKE:    distuv.Exponential{Rate: 10, Src: src},
		flux:        distuv.Normal{Mu: 1, Sigma: 0.05, Src: src},
		pions:       distuv.Poisson{Lambda: 0.3, Src: src},
	}
}

// next returns event n.
func (g *generator) next(n int) *events.Event {
	pdg := events.PDGNuMu
	if g.rng.Float64() < g.nueFraction {
		pdg = events.PDGNuE
	}
	ccnc := events.CC
	if g.rng.Float64() < g.ncFraction {
		ccnc = events.NC
	}
	nu := events.Neutrino{
		PDG:    pdg,
		Energy: g.nuEnergy.Rand(),
		CCNC:   ccnc,
		Vertex: [3]float64{g.rng.Float64() * 256, g.rng.Float64()*232 - 116, g.rng.Float64() * 1036},
	}

	ev := &events.Event{
		ID:      events.ID{Run: 1, SubRun: n / 100, Event: n},
		Truth:   map[string][]events.Neutrino{truthProducer: {nu}},
		Tracks:  map[string][]events.Particle{},
		Showers: map[string][]events.Particle{},
		Weights: map[string]map[string][]float64{
			fluxProducer:   {"bnbcorrection_FluxHist": {math.Max(0, g.flux.Rand())}},
			weightProducer: {"genie": {1}},
		},
	}

	remaining := nu.Energy
	if nu.IsCC() {
		e := nu.Energy * g.leptonY.Rand()
		remaining -= e
		if pdg == events.PDGNuE {
			ev.Showers[recoProducer] = append(ev.Showers[recoProducer], events.Particle{PDG: events.PDGElectron, Energy: e})
		} else {
			ev.Tracks[recoProducer] = append(ev.Tracks[recoProducer], events.Particle{PDG: events.PDGMuon, Energy: e, Length: e * 400})
		}
	} else if g.rng.Float64() < 0.4 {
		e := nu.Energy * g.leptonY.Rand() / 2
		remaining -= e
		ev.Showers[recoProducer] = append(ev.Showers[recoProducer], events.Particle{PDG: events.PDGPhoton, Energy: e})
	}

	for i := int(g.nProtons.Rand()); i > 0 && remaining > 0; i-- {
		ke := math.Min(g.protonKE.Rand(), remaining)
		remaining -= ke
		ev.Tracks[recoProducer] = append(ev.Tracks[recoProducer], events.Particle{PDG: events.PDGProton, Energy: ke, Length: ke * 150})
	}
	for i := int(g.pions.Rand()); i > 0 && remaining > 0.14; i-- {
		e := math.Min(0.14+g.protonKE.Rand(), remaining)
		remaining -= e
		ev.Tracks[recoProducer] = append(ev.Tracks[recoProducer], events.Particle{PDG: events.PDGPion, Energy: e, Length: e * 300})
	}
	return ev
}
