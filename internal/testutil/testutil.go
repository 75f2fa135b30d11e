// Package testutil provides shared test utilities and fixtures.
//
// This package centralises event builders and fixture writers so the harness,
// selection and events tests describe inputs the same way.
package testutil

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/eventsweep/internal/events"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Default producer labels used by fixtures.
const (
	TruthProducer  = "generator"
	RecoProducer   = "mcreco"
	FluxProducer   = "eventweight"
	WeightProducer = "mcweight"
)

// NumuCC returns a charged-current muon-neutrino event with one muon track
// and the given proton kinetic energies.
func NumuCC(n int, nuEnergy, muonEnergy float64, protons ...float64) *events.Event {
	ev := bare(n, events.Neutrino{PDG: events.PDGNuMu, Energy: nuEnergy, CCNC: events.CC})
	ev.Tracks[RecoProducer] = append(ev.Tracks[RecoProducer], events.Particle{PDG: events.PDGMuon, Energy: muonEnergy, Length: 200})
	for _, ke := range protons {
		ev.Tracks[RecoProducer] = append(ev.Tracks[RecoProducer], events.Particle{PDG: events.PDGProton, Energy: ke, Length: 10})
	}
	return ev
}

// NueCC returns a charged-current electron-neutrino event with one electron
// shower and the given proton kinetic energies.
func NueCC(n int, nuEnergy, electronEnergy float64, protons ...float64) *events.Event {
	ev := bare(n, events.Neutrino{PDG: events.PDGNuE, Energy: nuEnergy, CCNC: events.CC})
	ev.Showers[RecoProducer] = append(ev.Showers[RecoProducer], events.Particle{PDG: events.PDGElectron, Energy: electronEnergy})
	for _, ke := range protons {
		ev.Tracks[RecoProducer] = append(ev.Tracks[RecoProducer], events.Particle{PDG: events.PDGProton, Energy: ke, Length: 10})
	}
	return ev
}

// Sequence returns n muon-neutrino events numbered first, first+1, ...
func Sequence(first, n int) []*events.Event {
	out := make([]*events.Event, n)
	for i := range out {
		out[i] = NumuCC(first+i, 1.0, 0.6)
	}
	return out
}

func bare(n int, nu events.Neutrino) *events.Event {
	return &events.Event{
		ID:      events.ID{Run: 1, SubRun: n / 100, Event: n},
		Truth:   map[string][]events.Neutrino{TruthProducer: {nu}},
		Tracks:  map[string][]events.Particle{},
		Showers: map[string][]events.Particle{},
		Weights: map[string]map[string][]float64{
			FluxProducer:   {"bnbcorrection_FluxHist": {1.0}},
			WeightProducer: {"genie": {1.0}},
		},
	}
}

// WriteJSONL writes evs to dir/name (gzip-compressed when name ends in .gz)
// and returns the full path.
func WriteJSONL(t testing.TB, dir, name string, evs []*events.Event) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	AssertNoError(t, err)
	defer f.Close()

	var w io.Writer = f
	var zw *gzip.Writer
	if filepath.Ext(name) == ".gz" {
		zw = gzip.NewWriter(f)
		w = zw
	}
	jw := events.NewJSONLWriter(w)
	for _, ev := range evs {
		AssertNoError(t, jw.Write(ev))
	}
	AssertNoError(t, jw.Flush())
	if zw != nil {
		AssertNoError(t, zw.Close())
	}
	return path
}

// WritePCAP writes evs to dir/name as a pcap capture and returns the path.
func WritePCAP(t testing.TB, dir, name string, evs []*events.Event) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	AssertNoError(t, err)
	defer f.Close()

	pw, err := events.NewPCAPWriter(f)
	AssertNoError(t, err)
	for _, ev := range evs {
		AssertNoError(t, pw.Write(ev))
	}
	return path
}

// WriteEventFiles writes evs into consecutive files of perFile events each
// (the last may be shorter) and returns the paths in order.
func WriteEventFiles(t testing.TB, dir string, evs []*events.Event, perFile int) []string {
	t.Helper()
	var paths []string
	for i := 0; i < len(evs); i += perFile {
		end := i + perFile
		if end > len(evs) {
			end = len(evs)
		}
		name := fmt.Sprintf("events-%03d.jsonl", len(paths))
		paths = append(paths, WriteJSONL(t, dir, name, evs[i:end]))
	}
	return paths
}
