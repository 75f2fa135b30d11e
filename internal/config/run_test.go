package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRunConfig() RunConfig {
	return RunConfig{
		NSelections: 2,
		NTrials:     1,
		Workers:     2,
		InputFiles:  []string{"a.jsonl", "b.jsonl", "c.jsonl"},
		OutputFiles: []string{"o0.db", "o1.db", "o2.db", "o3.db"},
	}
}

func TestRunConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *RunConfig)
		field  string
	}{
		{name: "valid", mutate: func(c *RunConfig) {}},
		{name: "zero selections", mutate: func(c *RunConfig) { c.NSelections = 0 }, field: "n_selections"},
		{name: "zero trials", mutate: func(c *RunConfig) { c.NTrials = 0 }, field: "n_trials"},
		{name: "zero workers", mutate: func(c *RunConfig) { c.Workers = 0 }, field: "workers"},
		{name: "no inputs", mutate: func(c *RunConfig) { c.InputFiles = nil }, field: "input_files"},
		{name: "dataset ids per slot", mutate: func(c *RunConfig) { c.DatasetIDs = []int{5, 7} }},
		{name: "dataset ids wrong length", mutate: func(c *RunConfig) { c.DatasetIDs = []int{5} }, field: "dataset_ids"},
		{name: "track distortion wrong length", mutate: func(c *RunConfig) { c.TrackEnergyDistortion = []float64{0.1, 0.2, 0.3} }, field: "track_energy_distortion"},
		{name: "shower distortion wrong length", mutate: func(c *RunConfig) { c.ShowerEnergyDistortion = []float64{0.1} }, field: "shower_energy_distortion"},
		{name: "too few outputs", mutate: func(c *RunConfig) { c.OutputFiles = c.OutputFiles[:3] }, field: "output_files"},
		{name: "too many outputs", mutate: func(c *RunConfig) { c.OutputFiles = append(c.OutputFiles, "o4.db") }, field: "output_files"},
		{name: "duplicate outputs", mutate: func(c *RunConfig) { c.OutputFiles[3] = "./o0.db" }, field: "output_files"},
		{name: "empty output", mutate: func(c *RunConfig) { c.OutputFiles[1] = "" }, field: "output_files"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validRunConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestRunConfig_OutputsCountedAgainstEffectiveWorkers(t *testing.T) {
	t.Parallel()

	cfg := RunConfig{
		NSelections: 2,
		NTrials:     1,
		Workers:     8,
		InputFiles:  []string{"a", "b"},
		OutputFiles: []string{"0", "1", "2", "3"},
	}
	assert.Equal(t, 2, cfg.EffectiveWorkers())
	assert.NoError(t, cfg.Validate())
}

func TestRunConfig_EffectiveWorkers(t *testing.T) {
	t.Parallel()

	files := func(n int) []string { return make([]string, n) }
	tests := []struct {
		files, workers, want int
	}{
		{files: 10, workers: 3, want: 3},
		{files: 10, workers: 1, want: 1},
		{files: 3, workers: 8, want: 3},
		{files: 1, workers: 4, want: 1},
		// ceil(5/4)=2 leaves only three non-empty slices
		{files: 5, workers: 4, want: 3},
		{files: 0, workers: 4, want: 0},
		{files: 12, workers: 4, want: 4},
	}
	for _, tt := range tests {
		cfg := RunConfig{Workers: tt.workers, InputFiles: files(tt.files)}
		assert.Equal(t, tt.want, cfg.EffectiveWorkers(), "F=%d W=%d", tt.files, tt.workers)
	}
}

func TestRunConfig_SlotBroadcastOrDefault(t *testing.T) {
	t.Parallel()

	cfg := validRunConfig()
	cfg.DatasetIDs = []int{5, 7}
	cfg.ShowerEnergyDistortion = []float64{0.1, 0.2}
	cfg.ShowerEnergyDistortionByPercent = true

	slots := cfg.Slots()
	require.Len(t, slots, 2)

	id, ok := slots[0].DatasetID.Get()
	assert.True(t, ok)
	assert.Equal(t, 5, id)
	assert.Equal(t, 7, slots[1].DatasetID.Or(-1))

	assert.False(t, slots[0].TrackEnergy.IsSet())
	assert.False(t, slots[1].TrackEnergy.IsSet())

	shower, ok := slots[1].ShowerEnergy.Get()
	require.True(t, ok)
	assert.Equal(t, Distortion{Magnitude: 0.2, ByPercent: true}, shower)
}

func TestRunConfig_Clone(t *testing.T) {
	t.Parallel()

	cfg := validRunConfig()
	cfg.DatasetIDs = []int{1, 2}
	clone := cfg.Clone()
	if diff := cmp.Diff(cfg, clone); diff != "" {
		t.Fatalf("clone mismatch (-want +got):\n%s", diff)
	}

	clone.InputFiles[0] = "changed"
	clone.DatasetIDs[0] = 99
	assert.Equal(t, "a.jsonl", cfg.InputFiles[0])
	assert.Equal(t, 1, cfg.DatasetIDs[0])
}

func TestLoadRunConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "run.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"n_selections": 2,
		"workers": 3,
		"input_files": ["a.jsonl"],
		"output_files": ["x.db", "y.db"],
		"dataset_ids": [5, 7],
		"track_energy_distortion_by_percent": true,
		"accept_np": true
	}`), 0o644))

	yamlPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
n_selections: 2
workers: 3
input_files: [a.jsonl]
output_files: [x.db, y.db]
dataset_ids: [5, 7]
track_energy_distortion_by_percent: true
accept_np: true
`), 0o644))

	want := RunConfig{
		NSelections:                    2,
		NTrials:                        1,
		Workers:                        3,
		InputFiles:                     []string{"a.jsonl"},
		OutputFiles:                    []string{"x.db", "y.db"},
		DatasetIDs:                     []int{5, 7},
		TrackEnergyDistortionByPercent: true,
		AcceptNp:                       true,
	}

	for _, path := range []string{jsonPath, yamlPath} {
		got, err := LoadRunConfig(path)
		require.NoError(t, err, path)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", filepath.Base(path), diff)
		}
	}

	txt := filepath.Join(dir, "run.txt")
	require.NoError(t, os.WriteFile(txt, []byte("{}"), 0o644))
	_, err := LoadRunConfig(txt)
	assert.Error(t, err)

	_, err = LoadRunConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestParam(t *testing.T) {
	t.Parallel()

	d := Default[int]()
	_, ok := d.Get()
	assert.False(t, ok)
	assert.Equal(t, 3, d.Or(3))
	assert.Equal(t, "default", d.String())

	p := PerSlot(0)
	v, ok := p.Get()
	assert.True(t, ok, "explicit zero is still set")
	assert.Equal(t, 0, v)
	assert.Equal(t, 0, p.Or(3))
}

func TestDistortion_Sigma(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.2, Distortion{Magnitude: 0.1, ByPercent: true}.Sigma(2.0), 1e-12)
	assert.InDelta(t, 0.1, Distortion{Magnitude: 0.1}.Sigma(2.0), 1e-12)
	assert.Equal(t, "10%", Distortion{Magnitude: 0.1, ByPercent: true}.String())
}
