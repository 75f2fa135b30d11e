package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eventsweep/internal/events"
)

func readAll(t *testing.T, paths []string) []*events.Event {
	t.Helper()
	src, err := events.Open(paths)
	require.NoError(t, err)
	defer src.Close()
	var out []*events.Event
	for src.Next() {
		out = append(out, src.Event())
	}
	require.NoError(t, src.Err())
	return out
}

func TestGenerate_Formats(t *testing.T) {
	t.Parallel()
	for _, format := range []string{"jsonl", "jsonl.gz", "pcap"} {
		t.Run(format, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			paths, err := generate(options{n: 25, files: 3, outDir: dir, format: format, seed: 7, nueFraction: 0.2, ncFraction: 0.3})
			require.NoError(t, err)
			require.Len(t, paths, 3)
			assert.Equal(t, filepath.Join(dir, "events-000."+format), paths[0])

			evs := readAll(t, paths)
			require.Len(t, evs, 25)
			for i, ev := range evs {
				assert.Equal(t, i, ev.ID.Event)
				require.Len(t, ev.TruthFrom(truthProducer), 1)
				assert.Positive(t, ev.TruthFrom(truthProducer)[0].Energy)
			}
		})
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	t.Parallel()
	a, b := t.TempDir(), t.TempDir()
	o := options{n: 10, files: 2, format: "jsonl", seed: 3, nueFraction: 0.5, ncFraction: 0.2}
	o.outDir = a
	pa, err := generate(o)
	require.NoError(t, err)
	o.outDir = b
	pb, err := generate(o)
	require.NoError(t, err)
	assert.Equal(t, readAll(t, pa), readAll(t, pb))
}

func TestGenerator_Channels(t *testing.T) {
	t.Parallel()
	g := newGenerator(1, 1, 0)
	for i := 0; i < 50; i++ {
		ev := g.next(i)
		nu := ev.TruthFrom(truthProducer)[0]
		assert.Equal(t, events.PDGNuE, nu.PDG)
		assert.True(t, nu.IsCC())
		require.NotEmpty(t, ev.ShowersFrom(recoProducer))
		assert.Equal(t, events.PDGElectron, ev.ShowersFrom(recoProducer)[0].PDG)
	}
}

func TestRun_Validation(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	assert.Equal(t, 2, run([]string{"-files", "0"}, &out))
	assert.Equal(t, 2, run([]string{"-format", "csv"}, &out))
	assert.Equal(t, 2, run([]string{"-nue-fraction", "2"}, &out))
	assert.Equal(t, 0, run([]string{"-n", "4", "-files", "2", "-out-dir", t.TempDir()}, &out))
}
