// Package msms corrects MRM transition tables. Tandem MS observes
// only the two masses of a transition instead of a full isotopologue
// envelope, so the matrix approach of package lcms does not apply.
// Background correction first removes the natural-abundance noise
// predicted from each cohort's unlabeled fragment; the closed-form
// recurrence then corrects the parent/daughter intensities against
// their lighter neighbor transitions.
package msms

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/524D/nacorr/internal/formula"
	"github.com/524D/nacorr/internal/isotope"
	"github.com/524D/nacorr/internal/multiquant"
	"github.com/524D/nacorr/internal/postprocess"
)

var (
	// ErrMixedTracers rejects tables whose labels name more than one
	// tracer isotope; the recurrence is single-tracer by construction.
	ErrMixedTracers = errors.New("msms: transition table mixes tracer isotopes")
	// ErrUnlabeledFragment rejects metabolites without exactly one
	// unlabeled reference fragment; the background model needs it.
	ErrUnlabeledFragment = errors.New("msms: metabolite needs exactly one unlabeled fragment")
)

// Config holds the correction settings for one MS/MS run.
type Config struct {
	// Decimals rounds NA corrected intensities to this many decimal
	// places; negative disables rounding.
	Decimals int
	// ReplicateGroups lists, per cohort, the background samples whose
	// worst-case noise estimate is shared. Empty skips background
	// correction.
	ReplicateGroups [][]string
	// BackgroundOf maps every sample to its designated background
	// sample. Only consulted when ReplicateGroups is non-empty.
	BackgroundOf map[string]string
}

// transition is one row's decoded label plus the atom bookkeeping the
// correction formulas run on: p/d total tracer-element atoms in
// parent and daughter, m/n labeled atoms.
type transition struct {
	label multiquant.TransitionLabel
	p, d  int
	m, n  int
}

// resolve decodes every row's transition and verifies that the whole
// table uses a single tracer. Labeled-atom counts follow from the
// nominal isotopologue mass: (mass - molecular weight) / shift,
// rounded to the nearest integer.
func resolve(rows []multiquant.Measurement, tab *isotope.Table) ([]transition, isotope.Tracer, error) {
	var tracer isotope.Tracer
	mw := make(map[string]float64)
	molWeight := func(s string) (float64, error) {
		if w, ok := mw[s]; ok {
			return w, nil
		}
		f, err := formula.Parse(s)
		if err != nil {
			return 0, err
		}
		mw[s] = f.MolecularWeight()
		return mw[s], nil
	}

	out := make([]transition, len(rows))
	for i, r := range rows {
		lab, err := multiquant.ParseLabel(r.Label)
		if err != nil {
			return nil, tracer, fmt.Errorf("%s: %w", r.Fragment, err)
		}
		if i == 0 {
			tracer, err = tab.TracerFor(lab.Tracer)
			if err != nil {
				return nil, tracer, err
			}
		} else if lab.Tracer != tracer.Isotope {
			return nil, tracer, fmt.Errorf("%w: %s and %s", ErrMixedTracers, tracer.Isotope, lab.Tracer)
		}
		parent, err := formula.Parse(r.ParentFormula)
		if err != nil {
			return nil, tracer, fmt.Errorf("%s: %w", r.Fragment, err)
		}
		daughter, err := formula.Parse(r.Formula)
		if err != nil {
			return nil, tracer, fmt.Errorf("%s: %w", r.Fragment, err)
		}
		pw, err := molWeight(r.ParentFormula)
		if err != nil {
			return nil, tracer, err
		}
		dw, err := molWeight(r.Formula)
		if err != nil {
			return nil, tracer, err
		}
		out[i] = transition{
			label: lab,
			p:     parent.Count(tracer.Element),
			d:     daughter.Count(tracer.Element),
			m:     labeledAtoms(lab.ParentMass, pw, tracer.Shift),
			n:     labeledAtoms(lab.DaughterMass, dw, tracer.Shift),
		}
	}
	return out, tracer, nil
}

func labeledAtoms(isoMass, molWeight float64, shift int) int {
	return int(math.Round((isoMass - molWeight) / float64(shift)))
}

// Noise is the intensity that natural abundance alone would produce
// at a labeled transition, predicted from the unlabeled fragment's
// intensity: every labeled atom must be mimicked by a naturally heavy
// one, and the binomial coefficients count the atom positions that
// can do so in the daughter and in the neutral loss.
func Noise(unlabeled, na float64, parentAtoms, parentLabel, daughterAtoms, daughterLabel int) float64 {
	return unlabeled * math.Pow(na, float64(parentLabel)) *
		binom(parentAtoms-daughterAtoms, parentLabel-daughterLabel) *
		binom(daughterAtoms, daughterLabel)
}

// binom is the binomial coefficient, 0 outside 0 <= k <= n. Label
// counts beyond the atom count mean no natural-abundance arrangement
// can mimic the transition.
func binom(n, k int) float64 {
	if k < 0 || k > n || n < 0 {
		return 0
	}
	return combin.GeneralizedBinomial(float64(n), float64(k))
}

// Subtract removes noise from an observed intensity, clipped at zero
// so an overestimated noise cannot produce a negative background
// estimate.
func Subtract(intensity, noise float64) float64 {
	if v := intensity - noise; v > 0 {
		return v
	}
	return 0
}

// SubtractBackground estimates, per fragment and replicate group, the
// background the unlabeled fragment's natural abundance predicts and
// subtracts it from every sample whose designated background sample
// belongs to the group. The maximum estimate across the group's
// replicates is used for all of them. The unlabeled fragment itself
// and samples outside every group pass through unchanged.
func SubtractBackground(rows []multiquant.Measurement, groups [][]string,
	backgroundOf map[string]string, tab *isotope.Table) ([]multiquant.CorrectedMeasurement, error) {

	trans, tracer, err := resolve(rows, tab)
	if err != nil {
		return nil, err
	}
	na, err := tab.Abundance(tracer.Isotope)
	if err != nil {
		return nil, err
	}

	out := make([]multiquant.CorrectedMeasurement, len(rows))
	for i, r := range rows {
		out[i] = multiquant.CorrectedMeasurement{Measurement: r, BackgroundCorrected: r.Intensity}
	}

	for _, metab := range uniqueNames(rows) {
		unlabeled, err := unlabeledIntensities(rows, trans, metab)
		if err != nil {
			return nil, err
		}
		for _, frag := range uniqueFragments(rows, metab) {
			var idx []int
			obs := make(map[string]float64)
			for i, r := range rows {
				if r.Name == metab && r.Fragment == frag {
					idx = append(idx, i)
					obs[r.Sample] = r.Intensity
				}
			}
			tr := trans[idx[0]]
			if tr.m == 0 {
				continue // the reference fragment keeps its intensity
			}
			for _, group := range groups {
				background := 0.0
				inGroup := make(map[string]bool, len(group))
				for _, rep := range group {
					inGroup[rep] = true
					noise := Noise(unlabeled[rep], na, tr.p, tr.m, tr.d, tr.n)
					if v := Subtract(obs[rep], noise); v > background {
						background = v
					}
				}
				for _, i := range idx {
					if inGroup[backgroundOf[rows[i].Sample]] {
						out[i].BackgroundCorrected = rows[i].Intensity - background
					}
				}
			}
		}
	}
	return out, nil
}

// unlabeledIntensities returns the per-sample intensity of the
// metabolite's single unlabeled fragment. Samples without a row read
// as 0, no measurable background.
func unlabeledIntensities(rows []multiquant.Measurement, trans []transition, metab string) (map[string]float64, error) {
	frags := make(map[string]bool)
	out := make(map[string]float64)
	for i, r := range rows {
		if r.Name == metab && trans[i].m == 0 {
			frags[r.Fragment] = true
			out[r.Sample] = r.Intensity
		}
	}
	if len(frags) != 1 {
		return nil, fmt.Errorf("%w: %s has %d", ErrUnlabeledFragment, metab, len(frags))
	}
	return out, nil
}

func uniqueNames(rows []multiquant.Measurement) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		if !seen[r.Name] {
			seen[r.Name] = true
			out = append(out, r.Name)
		}
	}
	return out
}

func uniqueFragments(rows []multiquant.Measurement, metab string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		if r.Name == metab && !seen[r.Fragment] {
			seen[r.Fragment] = true
			out = append(out, r.Fragment)
		}
	}
	return out
}

// transitionKey addresses one transition of one metabolite in one
// sample. Neighbor masses are exact because labels carry nominal
// masses and the tracer shift is integral.
type transitionKey struct {
	sample       string
	metab        string
	parentMass   float64
	daughterMass float64
}

// CorrectNA applies the transition recurrence to every row. With
// labeled counts m (parent) and n (daughter), atom totals p and d and
// natural abundance na, the corrected intensity is
//
//	(1 + na(p-m)) I(m,n) - na((p-d)-(m-n-1)) I(m-1,n) - na(d-(n-1)) I(m-1,n-1)
//
// where the neighbor transitions sit one tracer shift below in mass
// and default to 0 when unobserved. When useBackground is set the
// recurrence runs on the zero-clipped background corrected column,
// otherwise on the raw intensities.
func CorrectNA(rows []multiquant.CorrectedMeasurement, useBackground bool,
	decimals int, tab *isotope.Table) ([]multiquant.CorrectedMeasurement, error) {

	ms := make([]multiquant.Measurement, len(rows))
	for i, r := range rows {
		ms[i] = r.Measurement
	}
	trans, tracer, err := resolve(ms, tab)
	if err != nil {
		return nil, err
	}
	na, err := tab.Abundance(tracer.Isotope)
	if err != nil {
		return nil, err
	}

	in := make([]float64, len(rows))
	for i, r := range rows {
		in[i] = r.Intensity
	}
	if useBackground {
		for i, r := range rows {
			in[i] = r.BackgroundCorrected
		}
		in = postprocess.ReplaceNegatives(in)
	}

	observed := make(map[transitionKey]float64, len(rows))
	for i, r := range rows {
		observed[transitionKey{r.Sample, r.Name, trans[i].label.ParentMass, trans[i].label.DaughterMass}] = in[i]
	}

	shift := float64(tracer.Shift)
	out := make([]multiquant.CorrectedMeasurement, len(rows))
	for i, r := range rows {
		tr := trans[i]
		key := transitionKey{r.Sample, r.Name, tr.label.ParentMass, tr.label.DaughterMass}
		below := key
		below.parentMass -= shift
		belowBoth := below
		belowBoth.daughterMass -= shift

		corrected := Recurrence(na, tr.p, tr.d, tr.m, tr.n,
			in[i], observed[below], observed[belowBoth])
		if decimals >= 0 {
			corrected = round(corrected, decimals)
		}
		out[i] = r
		out[i].NACorrected = corrected
	}
	return out, nil
}

// Recurrence corrects one transition with labeled counts m (parent)
// and n (daughter) and atom totals p and d, given the intensities of
// the transition itself and of its two lighter neighbors. With na = 0
// the result equals imn exactly.
func Recurrence(na float64, p, d, m, n int, imn, im1n, im1n1 float64) float64 {
	a := 1 + na*float64(p-m)
	b := na * float64((p-d)-(m-n-1))
	c := na * float64(d-(n-1))
	return a*imn - b*im1n - c*im1n1
}

// Correct runs the MS/MS pipeline: background correction when
// replicate groups are configured, then the recurrence.
func Correct(rows []multiquant.Measurement, cfg Config, tab *isotope.Table) ([]multiquant.CorrectedMeasurement, error) {
	useBackground := len(cfg.ReplicateGroups) > 0
	var corr []multiquant.CorrectedMeasurement
	var err error
	if useBackground {
		corr, err = SubtractBackground(rows, cfg.ReplicateGroups, cfg.BackgroundOf, tab)
		if err != nil {
			return nil, err
		}
	} else {
		corr = make([]multiquant.CorrectedMeasurement, len(rows))
		for i, r := range rows {
			corr[i] = multiquant.CorrectedMeasurement{Measurement: r, BackgroundCorrected: r.Intensity}
		}
	}
	return CorrectNA(corr, useBackground, cfg.Decimals, tab)
}

func round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
