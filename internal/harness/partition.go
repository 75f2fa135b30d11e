package harness

import "github.com/banshee-data/eventsweep/internal/config"

// PartitionFiles splits files into contiguous slices of n = ceil(F/W) files.
// Slice i covers [i*n, min((i+1)*n, F)). Trailing slices that would be empty
// are not returned, so the result has config.RunConfig.EffectiveWorkers
// entries and none of them is empty. Concatenating the result gives files.
func PartitionFiles(files []string, workers int) [][]string {
	f := len(files)
	if f == 0 || workers < 1 {
		return nil
	}
	if workers > f {
		workers = f
	}
	n := (f + workers - 1) / workers

	var out [][]string
	for lo := 0; lo < f; lo += n {
		hi := min(lo+n, f)
		out = append(out, files[lo:hi:hi])
	}
	return out
}

// PartitionOutputs gives worker i the fixed-stride slice
// [i*nSelections, (i+1)*nSelections) of outs. outs must hold at least
// nSelections*workers entries.
func PartitionOutputs[T any](outs []T, nSelections, workers int) [][]T {
	out := make([][]T, workers)
	for i := range out {
		lo, hi := i*nSelections, (i+1)*nSelections
		out[i] = outs[lo:hi:hi]
	}
	return out
}

// Assignment is the planned share of one worker, by path.
type Assignment struct {
	Worker  int
	Inputs  []string
	Outputs []string
}

// Plan returns the per-worker input and output paths for a validated cfg.
func Plan(cfg config.RunConfig) []Assignment {
	inputs := PartitionFiles(cfg.InputFiles, cfg.Workers)
	outputs := PartitionOutputs(cfg.OutputFiles, cfg.NSelections, len(inputs))
	plan := make([]Assignment, len(inputs))
	for i := range plan {
		plan[i] = Assignment{Worker: i, Inputs: inputs[i], Outputs: outputs[i]}
	}
	return plan
}
