// Package selection is the one-lepton-plus-protons event selection run by
// the harness. Each instance smears the simulated tracks and showers of every
// event NTrials times, applies the topology cuts, and histograms the
// reconstructed neutrino energy per trial and channel.
package selection

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/eventsweep/internal/config"
	"github.com/banshee-data/eventsweep/internal/confusion"
	"github.com/banshee-data/eventsweep/internal/events"
	"github.com/banshee-data/eventsweep/internal/harness"
	"github.com/banshee-data/eventsweep/internal/monitoring"
	"github.com/banshee-data/eventsweep/internal/output"
)

// Channels filled by the selection.
const (
	ChannelNuMu = "numu"
	ChannelNuE  = "nue"
)

var channels = []string{ChannelNuMu, ChannelNuE}

// ErrNotConfigured is returned by AnalyzeEvent and Finalize before Configure.
var ErrNotConfigured = errors.New("selection not configured")

// Factory creates Selection pipelines sharing one tuning.
type Factory struct {
	Tuning *config.SelectionTuning // nil uses the defaults
	// Count returns the number of events in the given files. It defaults to
	// events.Count.
	Count func(paths []string) (int, error)
}

// New is a harness.Factory.
func (f *Factory) New(worker, slot int, dest output.Destination) (harness.Pipeline, error) {
	if dest == nil {
		return nil, fmt.Errorf("selection %d/%d: nil destination", worker, slot)
	}
	tuning := f.Tuning
	if tuning == nil {
		tuning = config.EmptySelectionTuning()
	}
	count := f.Count
	if count == nil {
		count = events.Count
	}
	return &Selection{
		worker: worker,
		slot:   slot,
		dest:   dest,
		tuning: tuning,
		count:  count,
		logf:   monitoring.Prefixed(fmt.Sprintf("selection %d/%d: ", worker, slot)),
	}, nil
}

// Selection is one pipeline instance.
type Selection struct {
	worker, slot int
	dest         output.Destination
	tuning       *config.SelectionTuning
	count        func([]string) (int, error)
	logf         func(format string, v ...interface{})

	inputs    []string
	log       *monitoring.SyncLog
	exposure  int
	confusion *confusion.ConfigInfo

	settings   harness.Settings
	configured bool
	datasetID  int
	track      config.Distortion
	shower     config.Distortion
	edges      []float64
	rng        *rand.Rand
	normal     distuv.Normal

	analyzed int
	hists    map[string][][]float64 // channel -> trial -> bin
	eff      map[string]*output.Efficiency
}

// Initialize records the input list, counts the exposure and loads the
// confusion matrix when one is configured.
func (s *Selection) Initialize(inputs []string, log *monitoring.SyncLog) error {
	s.inputs = inputs
	s.log = log

	n, err := s.count(inputs)
	if err != nil {
		return fmt.Errorf("counting exposure: %w", err)
	}
	s.exposure = n

	if path := s.tuning.GetConfusionConfig(); path != "" {
		c, err := confusion.LoadAny(path)
		if err != nil {
			return err
		}
		s.confusion = c
		s.logf("confusion matrix %s: %d energy bins", path, len(c.EnergyRange))
	}
	return nil
}

// Configure applies the slot settings. Unset parameters keep the defaults:
// dataset id 0 and no energy distortion.
func (s *Selection) Configure(st harness.Settings) error {
	if st.NTrials < 1 {
		return fmt.Errorf("n_trials must be at least 1, got %d", st.NTrials)
	}
	if st.MaxProtons < 1 && st.AcceptNp {
		return fmt.Errorf("max_protons must be at least 1 with Np acceptance, got %d", st.MaxProtons)
	}
	s.settings = st
	s.datasetID = st.DatasetID.Or(0)
	s.track = st.TrackEnergyDistortion.Or(config.Distortion{})
	s.shower = st.ShowerEnergyDistortion.Or(config.Distortion{})
	if s.track.Magnitude < 0 || s.shower.Magnitude < 0 {
		return fmt.Errorf("energy distortion must be non-negative (track %s, shower %s)", s.track, s.shower)
	}
	s.edges = s.tuning.GetEnergyBins()

	src := rand.NewPCG(st.Seed, uint64(st.Worker)<<32|uint64(st.Slot))
	s.rng = rand.New(src)
	s.normal = distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	nBins := len(s.edges) - 1
	s.hists = make(map[string][][]float64, len(channels))
	s.eff = make(map[string]*output.Efficiency, len(channels))
	for _, ch := range channels {
		trials := make([][]float64, st.NTrials)
		for t := range trials {
			trials[t] = make([]float64, nBins)
		}
		s.hists[ch] = trials
		s.eff[ch] = &output.Efficiency{Channel: ch}
	}
	s.configured = true
	return nil
}

// AnalyzeEvent runs every trial over ev.
func (s *Selection) AnalyzeEvent(ev *events.Event) error {
	if !s.configured {
		return ErrNotConfigured
	}
	s.analyzed++

	truth := ev.TruthFrom(s.settings.MCTruthProducer)
	if len(truth) == 0 {
		return nil
	}
	trueChannel := channelOf(truth[0])
	w := ev.CentralWeight(s.settings.FluxWeightProducer) * ev.CentralWeight(s.settings.EventWeightProducer)
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("non-finite weight %g", w)
	}
	tracks := ev.TracksFrom(s.settings.MCTrackProducer)
	showers := ev.ShowersFrom(s.settings.MCShowerProducer)

	for t := 0; t < s.settings.NTrials; t++ {
		ch, energy, ok := s.reconstruct(tracks, showers)

		var eff *output.Efficiency
		if trueChannel != "" {
			eff = s.eff[trueChannel]
			eff.Total += w
			eff.TotalCount++
		}
		if !ok {
			continue
		}
		if b := s.bin(energy); b >= 0 {
			s.hists[ch][t][b] += w
		}
		if eff != nil && ch == trueChannel {
			eff.Selected += w
			eff.SelectedCount++
		}
	}
	return nil
}

// channelOf returns the signal channel of a charged-current interaction, or
// "" for anything else.
func channelOf(nu events.Neutrino) string {
	if !nu.IsCC() {
		return ""
	}
	switch abs(nu.PDG) {
	case events.PDGNuMu:
		return ChannelNuMu
	case events.PDGNuE:
		return ChannelNuE
	}
	return ""
}

// reconstruct applies identification, smearing, thresholds and the topology
// cuts for one trial. It returns the channel and reconstructed energy of a
// selected event.
func (s *Selection) reconstruct(tracks, showers []events.Particle) (string, float64, bool) {
	var muons, electrons, protons, otherTracks, otherShowers int
	var leptonE, protonE float64

	for _, p := range tracks {
		pdg := s.identify(p)
		e := s.smear(p.Energy, s.track)
		threshold := s.tuning.GetTrackThreshold()
		if abs(pdg) == events.PDGProton {
			threshold = s.tuning.GetProtonThreshold()
		}
		if e < threshold {
			continue
		}
		switch abs(pdg) {
		case events.PDGMuon:
			muons++
			leptonE += e
		case events.PDGProton:
			protons++
			protonE += e
		default:
			otherTracks++
		}
	}
	for _, p := range showers {
		pdg := s.identify(p)
		e := s.smear(p.Energy, s.shower)
		if e < s.tuning.GetShowerThreshold() {
			continue
		}
		if abs(pdg) == events.PDGElectron {
			electrons++
			leptonE += e
		} else {
			otherShowers++
		}
	}

	if muons+electrons != 1 || otherShowers > 0 {
		return "", 0, false
	}
	if otherTracks > 0 && !s.settings.AcceptNTrack {
		return "", 0, false
	}
	if s.settings.AcceptNp {
		if protons < 1 || protons > s.settings.MaxProtons {
			return "", 0, false
		}
	} else if protons != 1 {
		return "", 0, false
	}

	ch := ChannelNuE
	if muons == 1 {
		ch = ChannelNuMu
	}
	return ch, leptonE + protonE, true
}

func (s *Selection) identify(p events.Particle) int {
	if s.confusion == nil {
		return p.PDG
	}
	return s.confusion.Misidentify(p.Energy, abs(p.PDG), s.rng.Float64())
}

// smear draws from a Gaussian around e. The result is clamped at zero.
func (s *Selection) smear(e float64, d config.Distortion) float64 {
	sigma := d.Sigma(e)
	if sigma <= 0 {
		return e
	}
	return math.Max(0, e+sigma*s.normal.Rand())
}

// bin returns the histogram bin of energy, or -1 outside the edges.
func (s *Selection) bin(energy float64) int {
	if energy < s.edges[0] || energy >= s.edges[len(s.edges)-1] {
		return -1
	}
	return sort.Search(len(s.edges), func(i int) bool { return s.edges[i] > energy }) - 1
}

// Finalize writes the trial spectra, their spread and covariance, the
// efficiencies and the slot metadata to the destination.
func (s *Selection) Finalize() error {
	if !s.configured {
		return ErrNotConfigured
	}
	for _, ch := range channels {
		sp := summarize(ch, s.edges, s.hists[ch])
		if err := s.dest.WriteSpectrum(sp); err != nil {
			return fmt.Errorf("writing %s spectrum: %w", ch, err)
		}
		if err := s.dest.WriteEfficiency(*s.eff[ch]); err != nil {
			return fmt.Errorf("writing %s efficiency: %w", ch, err)
		}
	}
	if err := s.dest.WriteMetadata(s.metadata()); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	if s.settings.Verbose && s.log != nil {
		nm, ne := s.eff[ChannelNuMu], s.eff[ChannelNuE]
		s.log.Printf("worker %d slot %d: %d events, numu %d/%d, nue %d/%d selected over %d trials",
			s.worker, s.slot, s.analyzed, nm.SelectedCount, nm.TotalCount, ne.SelectedCount, ne.TotalCount, s.settings.NTrials)
	}
	return nil
}

func (s *Selection) metadata() map[string]string {
	track, shower := "default", "default"
	if s.settings.TrackEnergyDistortion.IsSet() {
		track = s.track.String()
	}
	if s.settings.ShowerEnergyDistortion.IsSet() {
		shower = s.shower.String()
	}
	return map[string]string{
		"worker":                   strconv.Itoa(s.worker),
		"slot":                     strconv.Itoa(s.slot),
		"dataset_id":               strconv.Itoa(s.datasetID),
		"track_energy_distortion":  track,
		"shower_energy_distortion": shower,
		"n_trials":                 strconv.Itoa(s.settings.NTrials),
		"accept_np":                strconv.FormatBool(s.settings.AcceptNp),
		"max_protons":              strconv.Itoa(s.settings.MaxProtons),
		"accept_ntrack":            strconv.FormatBool(s.settings.AcceptNTrack),
		"seed":                     strconv.FormatUint(s.settings.Seed, 10),
		"exposure":                 strconv.Itoa(s.exposure),
		"events_analyzed":          strconv.Itoa(s.analyzed),
		"input_files":              strconv.Itoa(len(s.inputs)),
	}
}

// summarize computes the per-bin mean and standard deviation across trials
// and the bin-by-bin covariance. With a single trial the spread is zero.
func summarize(channel string, edges []float64, trials [][]float64) output.Spectrum {
	nTrials, nBins := len(trials), len(edges)-1
	sp := output.Spectrum{
		Channel:    channel,
		Edges:      append([]float64(nil), edges...),
		Trials:     trials,
		Mean:       make([]float64, nBins),
		StdDev:     make([]float64, nBins),
		Covariance: make([]float64, nBins*nBins),
	}

	col := make([]float64, nTrials)
	for b := 0; b < nBins; b++ {
		for t := range trials {
			col[t] = trials[t][b]
		}
		if nTrials == 1 {
			sp.Mean[b] = col[0]
			continue
		}
		sp.Mean[b], sp.StdDev[b] = stat.MeanStdDev(col, nil)
	}
	if nTrials == 1 {
		return sp
	}

	data := make([]float64, 0, nTrials*nBins)
	for _, trial := range trials {
		data = append(data, trial...)
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, mat.NewDense(nTrials, nBins, data), nil)
	for i := 0; i < nBins; i++ {
		for j := 0; j < nBins; j++ {
			sp.Covariance[i*nBins+j] = cov.At(i, j)
		}
	}
	return sp
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
