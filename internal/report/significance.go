// Package report turns per-slot signal and background result stores into a
// significance value per distortion setting and draws them as heatmaps.
package report

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/eventsweep/internal/output"
)

// Channels whose spectra are concatenated, in order, to form the fit vector.
var Channels = []string{"numu", "nue"}

// Inputs is the signal and background expectation in every bin of the
// concatenated channel spectra, with the fractional covariance of the
// background (row-major, len(Background)^2 entries; nil means none).
type Inputs struct {
	Signal     []float64
	Background []float64
	FracCov    []float64
}

// Significance returns sqrt(chi2) with chi2 = s^T V^-1 s, where
// V = diag(b) + F_ij b_i b_j and s, b are scaled by scale. Bins without
// background are ignored. When V is not positive definite only the
// statistical term diag(b) is used.
func Significance(in Inputs, scale float64) (float64, error) {
	n := len(in.Background)
	if len(in.Signal) != n {
		return 0, fmt.Errorf("signal has %d bins, background %d", len(in.Signal), n)
	}
	if in.FracCov != nil && len(in.FracCov) != n*n {
		return 0, fmt.Errorf("fractional covariance has %d entries, want %d", len(in.FracCov), n*n)
	}
	if scale <= 0 {
		return 0, fmt.Errorf("scale must be positive, got %g", scale)
	}

	var idx []int
	for i, b := range in.Background {
		if b > 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return 0, nil
	}

	m := len(idx)
	s := mat.NewVecDense(m, nil)
	v := mat.NewSymDense(m, nil)
	for a, i := range idx {
		bi := in.Background[i] * scale
		s.SetVec(a, in.Signal[i]*scale)
		for c := a; c < m; c++ {
			j := idx[c]
			bj := in.Background[j] * scale
			val := 0.0
			if in.FracCov != nil {
				val = in.FracCov[i*n+j] * bi * bj
			}
			if a == c {
				val += bi
			}
			v.SetSym(a, c, val)
		}
	}

	var chol mat.Cholesky
	if chol.Factorize(v) {
		var x mat.VecDense
		if err := chol.SolveVecTo(&x, s); err == nil {
			return math.Sqrt(math.Max(0, mat.Dot(s, &x))), nil
		}
	}

	chi2 := 0.0
	for a, i := range idx {
		chi2 += s.AtVec(a) * s.AtVec(a) / (in.Background[i] * scale)
	}
	return math.Sqrt(chi2), nil
}

// LoadInputs reads the mean spectra of the signal and background stores and
// builds the fractional covariance from the background covariance. Channels
// are treated as uncorrelated with each other.
func LoadInputs(signalPath, backgroundPath string) (Inputs, error) {
	sig, err := output.Open(signalPath)
	if err != nil {
		return Inputs{}, err
	}
	defer sig.Close()
	bkg, err := output.Open(backgroundPath)
	if err != nil {
		return Inputs{}, err
	}
	defer bkg.Close()

	var in Inputs
	var blocks [][]float64
	var sizes []int
	for _, ch := range Channels {
		ss, err := sig.Spectrum(ch)
		if err != nil {
			return Inputs{}, fmt.Errorf("signal %s: %w", signalPath, err)
		}
		bs, err := bkg.Spectrum(ch)
		if err != nil {
			return Inputs{}, fmt.Errorf("background %s: %w", backgroundPath, err)
		}
		if ss.NBins() != bs.NBins() {
			return Inputs{}, fmt.Errorf("channel %s: signal has %d bins, background %d", ch, ss.NBins(), bs.NBins())
		}
		in.Signal = append(in.Signal, ss.Mean...)
		in.Background = append(in.Background, bs.Mean...)
		blocks = append(blocks, fractional(bs))
		sizes = append(sizes, bs.NBins())
	}

	n := len(in.Background)
	in.FracCov = make([]float64, n*n)
	off := 0
	for k, block := range blocks {
		nb := sizes[k]
		for i := 0; i < nb; i++ {
			for j := 0; j < nb; j++ {
				in.FracCov[(off+i)*n+off+j] = block[i*nb+j]
			}
		}
		off += nb
	}
	return in, nil
}

// fractional divides the covariance of sp by the product of its bin means.
// Bins with a zero mean get zero fractional covariance.
func fractional(sp output.Spectrum) []float64 {
	n := sp.NBins()
	out := make([]float64, n*n)
	if len(sp.Covariance) != n*n {
		return out
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := sp.Mean[i] * sp.Mean[j]
			if d != 0 {
				out[i*n+j] = sp.Covariance[i*n+j] / d
			}
		}
	}
	return out
}
