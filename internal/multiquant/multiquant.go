// Package multiquant reads and writes MRM transition tables as
// exported by MultiQuant. The raw export carries one intensity per
// (fragment, sample); fragment formulas and mass transitions come
// from a separate metadata file and the cohort/background layout from
// a sample metadata file. The three are merged into one long-form
// table with labels of the form "<tracer>_<parentMass>_<daughterMass>",
// e.g. "C13_169.0_97.0".
package multiquant

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrBadLabel    = errors.New("multiquant: malformed transition label")
	ErrBadMassInfo = errors.New("multiquant: malformed mass info")
	ErrBadHeader   = errors.New("multiquant: missing required column")
	ErrEmptyMerge  = errors.New("multiquant: no common entries between input files")
)

// Measurement is one observed transition intensity after merging the
// raw, metadata and sample metadata files.
type Measurement struct {
	Name          string // metabolite, named after its unlabeled fragment
	Fragment      string // component name, e.g. "DHAP 170/97"
	Formula       string // daughter fragment formula
	ParentFormula string
	Label         string // "<tracer>_<parentMass>_<daughterMass>"
	Sample        string
	Cohort        string
	Intensity     float64
}

// TransitionLabel is a decoded transition label.
type TransitionLabel struct {
	Tracer       string  // tracer isotope, e.g. "C13"
	ParentMass   float64 // nominal parent isotopologue mass
	DaughterMass float64
}

// ParseLabel decodes a label like "C13_169.0_97.0".
func ParseLabel(label string) (TransitionLabel, error) {
	parts := strings.Split(label, "_")
	if len(parts) != 3 {
		return TransitionLabel{}, fmt.Errorf("%w: %q", ErrBadLabel, label)
	}
	pm, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return TransitionLabel{}, fmt.Errorf("%w: %q", ErrBadLabel, label)
	}
	dm, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return TransitionLabel{}, fmt.Errorf("%w: %q", ErrBadLabel, label)
	}
	return TransitionLabel{Tracer: parts[0], ParentMass: pm, DaughterMass: dm}, nil
}

// Format reassembles the canonical label string. Whole masses keep
// one decimal so labels round-trip with the vendor convention.
func (l TransitionLabel) Format() string {
	return l.Tracer + "_" + formatMass(l.ParentMass) + "_" + formatMass(l.DaughterMass)
}

// MassesFromInfo converts a metadata mass info field like
// "169.0/97.0" into the parent and daughter masses.
func MassesFromInfo(info string) (parent, daughter float64, err error) {
	pp, dd, ok := strings.Cut(info, "/")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadMassInfo, info)
	}
	parent, err = strconv.ParseFloat(strings.TrimSpace(pp), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadMassInfo, info)
	}
	daughter, err = strconv.ParseFloat(strings.TrimSpace(dd), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadMassInfo, info)
	}
	return parent, daughter, nil
}

func formatMass(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// RawRow is one row of the raw MultiQuant export.
type RawRow struct {
	Sample    string // original filename
	Fragment  string // component name
	Cohort    string
	Intensity float64 // peak area
}

// MetaRow describes one fragment: its formulas, the tracer used and
// the mass transition.
type MetaRow struct {
	Fragment      string
	Unlabeled     string // unlabeled fragment, doubles as metabolite name
	Tracer        string
	Formula       string
	ParentFormula string
	MassInfo      string // "169.0/97.0"
}

// SampleRow maps one sample to its cohort and its designated
// background sample.
type SampleRow struct {
	Sample     string
	Cohort     string
	Background string
}

// Merge joins the three files into the long-form measurement table.
// Fragments missing from the metadata and samples from cohorts
// containing "std" (standards, not biological samples) are dropped.
func Merge(raw []RawRow, meta []MetaRow, sampleMeta []SampleRow) ([]Measurement, error) {
	metaFor := make(map[string]MetaRow, len(meta))
	for _, m := range meta {
		metaFor[m.Fragment] = m
	}
	keep := make(map[string]bool, len(sampleMeta))
	for _, s := range sampleMeta {
		keep[s.Sample] = true
	}

	var out []Measurement
	for _, r := range raw {
		m, ok := metaFor[r.Fragment]
		if !ok {
			continue
		}
		if len(sampleMeta) > 0 && !keep[r.Sample] {
			continue
		}
		if strings.Contains(strings.ToLower(r.Cohort), "std") {
			continue
		}
		pm, dm, err := MassesFromInfo(m.MassInfo)
		if err != nil {
			return nil, fmt.Errorf("fragment %s: %w", r.Fragment, err)
		}
		label := TransitionLabel{Tracer: m.Tracer, ParentMass: pm, DaughterMass: dm}
		out = append(out, Measurement{
			Name:          m.Unlabeled,
			Fragment:      r.Fragment,
			Formula:       m.Formula,
			ParentFormula: m.ParentFormula,
			Label:         label.Format(),
			Sample:        r.Sample,
			Cohort:        r.Cohort,
			Intensity:     r.Intensity,
		})
	}
	if len(out) == 0 {
		return nil, ErrEmptyMerge
	}
	return out, nil
}

// ReplicateGroups derives the cohort replicate layout from the sample
// metadata: samples are grouped by the cohort of their designated
// background sample, and each group lists the distinct background
// samples of that cohort. The second return value maps every sample
// to its background sample.
func ReplicateGroups(sampleMeta []SampleRow) ([][]string, map[string]string) {
	cohortOf := make(map[string]string, len(sampleMeta))
	backgroundOf := make(map[string]string, len(sampleMeta))
	for _, s := range sampleMeta {
		cohortOf[s.Sample] = s.Cohort
		backgroundOf[s.Sample] = s.Background
	}

	var order []string
	inGroup := make(map[string]map[string]bool)
	groups := make(map[string][]string)
	for _, s := range sampleMeta {
		bgCohort := cohortOf[s.Background]
		if inGroup[bgCohort] == nil {
			inGroup[bgCohort] = make(map[string]bool)
			order = append(order, bgCohort)
		}
		if !inGroup[bgCohort][s.Background] {
			inGroup[bgCohort][s.Background] = true
			groups[bgCohort] = append(groups[bgCohort], s.Background)
		}
	}

	out := make([][]string, 0, len(order))
	for _, cohort := range order {
		out = append(out, groups[cohort])
	}
	return out, backgroundOf
}
