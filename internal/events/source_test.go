package events_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/eventsweep/internal/events"
	"github.com/banshee-data/eventsweep/internal/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, src events.Source) []int {
	t.Helper()
	var ids []int
	for src.Next() {
		ids = append(ids, src.Event().ID.Event)
	}
	require.NoError(t, src.Err())
	require.NoError(t, src.Close())
	return ids
}

func seq(first, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = first + i
	}
	return out
}

func TestOpen_FileOrderThenRecordOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	paths := []string{
		testutil.WriteJSONL(t, dir, "a.jsonl", testutil.Sequence(0, 3)),
		testutil.WriteJSONL(t, dir, "b.jsonl.gz", testutil.Sequence(3, 4)),
		testutil.WritePCAP(t, dir, "c.pcap", testutil.Sequence(7, 5)),
		testutil.WriteJSONL(t, dir, "empty.jsonl", nil),
		testutil.WriteJSONL(t, dir, "d.jsonl", testutil.Sequence(12, 1)),
	}

	src, err := events.Open(paths)
	require.NoError(t, err)
	got := drain(t, src)
	if diff := cmp.Diff(seq(0, 13), got); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestOpen_IndependentSources(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	paths := testutil.WriteEventFiles(t, dir, testutil.Sequence(0, 10), 4)

	a, err := events.Open(paths)
	require.NoError(t, err)
	b, err := events.Open(paths)
	require.NoError(t, err)

	// Interleave the two iterations; neither may observe the other.
	var gotA, gotB []int
	for {
		okA := a.Next()
		if okA {
			gotA = append(gotA, a.Event().ID.Event)
		}
		okB := b.Next()
		if okB {
			gotB = append(gotB, b.Event().ID.Event)
		}
		if okB {
			okB = b.Next()
			if okB {
				gotB = append(gotB, b.Event().ID.Event)
			}
		}
		if !okA && !okB {
			break
		}
	}
	require.NoError(t, a.Err())
	require.NoError(t, b.Err())
	assert.Equal(t, seq(0, 10), gotA)
	assert.Equal(t, seq(0, 10), gotB)
	assert.NoError(t, a.Close())
	assert.NoError(t, b.Close())
}

func TestOpen_PCAPPreservesContent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	want := testutil.NueCC(42, 1.3, 0.9, 0.12)
	path := testutil.WritePCAP(t, dir, "one.pcap", []*events.Event{want})

	src, err := events.Open([]string{path})
	require.NoError(t, err)
	require.True(t, src.Next())
	if diff := cmp.Diff(want, src.Event()); diff != "" {
		t.Fatalf("pcap event mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, src.Next())
	assert.NoError(t, src.Err())
}

func TestOpen_UnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := events.Open([]string{"a.jsonl", "b.root"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, events.ErrUnknownFormat))
}

func TestOpen_MissingFileSurfacesOnIteration(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := testutil.WriteJSONL(t, dir, "good.jsonl", testutil.Sequence(0, 2))

	src, err := events.Open([]string{good, filepath.Join(dir, "missing.jsonl")})
	require.NoError(t, err)

	n := 0
	for src.Next() {
		n++
	}
	assert.Equal(t, 2, n)
	require.Error(t, src.Err())
	assert.True(t, errors.Is(src.Err(), os.ErrNotExist))
	assert.False(t, src.Next(), "a failed source stays exhausted")
}

func TestOpen_CorruptRecord(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":{\"event\":1}}\n\nnot json\n"), 0o644))

	src, err := events.Open([]string{path})
	require.NoError(t, err)
	require.True(t, src.Next())
	assert.Equal(t, 1, src.Event().ID.Event)
	assert.False(t, src.Next())
	require.Error(t, src.Err())
	assert.Contains(t, src.Err().Error(), "line 3")
}

func TestCount(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	paths := testutil.WriteEventFiles(t, dir, testutil.Sequence(0, 25), 10)

	n, err := events.Count(paths)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	_, err = events.Count([]string{"x.txt"})
	assert.Error(t, err)
}

func TestSliceSource(t *testing.T) {
	t.Parallel()

	src := events.NewSliceSource(testutil.Sequence(5, 3))
	assert.Nil(t, src.Event())
	assert.Equal(t, []int{5, 6, 7}, drain(t, src))
	assert.False(t, src.Next())
	assert.Nil(t, src.Event())
}

func TestEvent_CentralWeight(t *testing.T) {
	t.Parallel()

	ev := &events.Event{Weights: map[string]map[string][]float64{
		"eventweight": {"flux": {0.5, 2}, "xsec": {3}, "empty": {}},
	}}
	assert.InDelta(t, 1.5, ev.CentralWeight("eventweight"), 1e-12)
	assert.Equal(t, 1.0, ev.CentralWeight("missing"))
}
