// Package isotope holds the natural-abundance reference data used by
// the correction algorithms: per-element isotope probability vectors,
// isotope masses and nominal shifts, and the mass differences between
// isotopologues of different elements that coincide at nominal
// resolution. The data is exposed through an immutable Table that is
// created once and passed explicitly to the correction functions.
package isotope

import (
	"errors"
	"fmt"
)

var ErrUnknownIsotope = errors.New("unknown isotope")
var ErrNoAbundanceData = errors.New("no natural abundance data for element")

// Tracer identifies the isotope used to label a compound.
type Tracer struct {
	Isotope string // e.g. "C13"
	Element string // e.g. "C"
	Natural string // most abundant isotope of the element, e.g. "C12"
	Shift   int    // nominal mass shift per labeled atom
}

type isotopeData struct {
	element string
	natural string  // most abundant isotope of the element
	mass    float64 // exact mass in u
	shift   int     // nominal mass shift relative to the natural isotope
	na      float64 // natural abundance
}

var defaultIsotopes = map[string]isotopeData{
	"H1":   {"H", "H1", 1.007825, 0, 0.99985},
	"H2":   {"H", "H1", 2.014102, 1, 0.00015},
	"C12":  {"C", "C12", 12.0, 0, 0.9889},
	"C13":  {"C", "C12", 13.0033548378, 1, 0.0111},
	"N14":  {"N", "N14", 14.003074, 0, 0.9964},
	"N15":  {"N", "N14", 15.000109, 1, 0.0036},
	"O16":  {"O", "O16", 15.994915, 0, 0.9976},
	"O17":  {"O", "O16", 16.999132, 1, 0.0004},
	"O18":  {"O", "O16", 17.999161, 2, 0.002},
	"Si28": {"Si", "Si28", 27.976927, 0, 0.922297},
	"Si29": {"Si", "Si28", 28.976495, 1, 0.046832},
	"Si30": {"Si", "Si28", 29.973770, 2, 0.030872},
	"S32":  {"S", "S32", 31.972071, 0, 0.95},
	"S33":  {"S", "S32", 32.971459, 1, 0.0076},
	"S34":  {"S", "S32", 33.967867, 2, 0.0424},
}

// Natural-abundance probability vectors per element, indexed by
// nominal mass shift.
var defaultVectors = map[string][]float64{
	"H":  {0.99985, 0.00015},
	"C":  {0.9889, 0.0111},
	"N":  {0.9964, 0.0036},
	"O":  {0.9976, 0.0004, 0.002},
	"S":  {0.95, 0.0076, 0.0424},
	"Si": {0.922297, 0.046832, 0.030872},
}

// Heavy isotopes per element for elements with more than one, in
// order of increasing shift. Elements with a single heavy isotope are
// deliberately absent: their candidates keep the element name.
var defaultHeavy = map[string][]string{
	"O":  {"O17", "O18"},
	"S":  {"S33", "S34"},
	"Si": {"Si29", "Si30"},
}

// Mass separation in u between a tracer's isotopologue and the
// same-nominal-shift isotopologue of a candidate element. Keyed by
// tracer isotope, then by candidate name: the bare element symbol for
// elements with a single heavy isotope (H, C, N), the isotope name
// for O, S and Si. Example: the C13 vs O17 entry is
// (O17-O16) - (C13-C12).
var defaultMassDiff = map[string]map[string]float64{
	"C13": {
		"O17": 0.0008622426, "N": 0.0063199444, "H": 0.0029219079,
		"S34": 0.0109137756, "Si29": 0.0037866703, "Si30": 0.0098660381,
		"S33": 0.0039670778, "O18": 0.0024632952,
	},
	"N15": {
		"O17": 0.007182187, "C": 0.0063199444, "H": 0.0092418523,
		"S34": 0.0017261132, "Si29": 0.0025332741, "Si30": 0.0027738507,
		"S33": 0.0023528666, "O18": 0.0101765936,
	},
	"H2": {
		"O17": 0.0020596653, "C": 0.0029219079, "N": 0.0092418523,
		"S34": 0.0167575915, "Si29": 0.0067085782, "Si30": 0.015709854,
		"S33": 0.0068889857, "O18": 0.008307111,
	},
	"O17": {
		"C": 0.0008622426, "N": 0.007182187, "H": 0.0020596653,
		"S34": 0.0126382609, "Si29": 0.0046489129, "Si30": 0.0115905234,
		"S33": 0.0048293204,
	},
	"S34": {
		"O17": 0.0126382609, "C": 0.0109137756, "N": 0.0017261132,
		"H": 0.0167575915, "Si29": 0.003340435, "Si30": 0.0010477375,
		"O18": 0.0084504804,
	},
	"Si29": {
		"O17": 0.0046489129, "C": 0.0037866703, "N": 0.0025332741,
		"H": 0.0067085782, "S34": 0.003340435, "S33": 0.0001804075,
		"O18": 0.0051100454,
	},
	"Si30": {
		"O17": 0.0115905234, "C": 0.0098660381, "N": 0.0027738507,
		"H": 0.015709854, "S34": 0.0010477375, "S33": 0.0019318825,
		"O18": 0.0074027429,
	},
	"S33": {
		"O17": 0.0048293204, "C": 0.0039670778, "N": 0.0023528666,
		"H": 0.0068889857, "Si29": 0.0001804075, "Si30": 0.0019318825,
		"O18": 0.0054708604,
	},
	"O18": {
		"C": 0.0024632952, "N": 0.0101765936, "H": 0.008307111,
		"S34": 0.0084504804, "Si29": 0.0051100454, "Si30": 0.0074027429,
		"S33": 0.0054708604,
	},
}

// Table is the read-only isotope reference data.
type Table struct {
	isotopes map[string]isotopeData
	vectors  map[string][]float64
	heavy    map[string][]string
	massDiff map[string]map[string]float64
}

// DefaultTable returns the build-in isotope data.
func DefaultTable() *Table {
	return &Table{
		isotopes: defaultIsotopes,
		vectors:  defaultVectors,
		heavy:    defaultHeavy,
		massDiff: defaultMassDiff,
	}
}

// TracerFor resolves an isotope name like "C13" into a Tracer.
func (t *Table) TracerFor(iso string) (Tracer, error) {
	d, ok := t.isotopes[iso]
	if !ok {
		return Tracer{}, fmt.Errorf("%w: %q", ErrUnknownIsotope, iso)
	}
	return Tracer{Isotope: iso, Element: d.element, Natural: d.natural, Shift: d.shift}, nil
}

// Element returns the element symbol an isotope belongs to.
func (t *Table) Element(iso string) (string, error) {
	d, ok := t.isotopes[iso]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownIsotope, iso)
	}
	return d.element, nil
}

// Mass returns the exact mass of an isotope in u.
func (t *Table) Mass(iso string) (float64, error) {
	d, ok := t.isotopes[iso]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownIsotope, iso)
	}
	return d.mass, nil
}

// Abundance returns the natural abundance of a single isotope.
func (t *Table) Abundance(iso string) (float64, error) {
	d, ok := t.isotopes[iso]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownIsotope, iso)
	}
	return d.na, nil
}

// Vector returns a copy of the natural-abundance probability vector
// of an element, indexed by nominal mass shift.
func (t *Table) Vector(element string) ([]float64, bool) {
	v, ok := t.vectors[element]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), v...), true
}

// Vectors returns a copy of all per-element vectors with the given
// overrides merged in. Override keys may be element symbols or single
// isotope names; both are passed through as-is and picked up by
// CandidateVector.
func (t *Table) Vectors(overrides map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64, len(t.vectors)+len(overrides))
	for elem, v := range t.vectors {
		out[elem] = append([]float64(nil), v...)
	}
	for k, v := range overrides {
		out[k] = append([]float64(nil), v...)
	}
	return out
}

// HeavyIsotopes returns the heavy isotopes of an element in order of
// increasing shift, or nil for elements with at most one heavy
// isotope.
func (t *Table) HeavyIsotopes(element string) []string {
	isos, ok := t.heavy[element]
	if !ok {
		return nil
	}
	return append([]string(nil), isos...)
}

// MassDiff returns the mass separation between a tracer isotopologue
// and the same-nominal-shift isotopologue of a candidate.
func (t *Table) MassDiff(tracerIso, candidate string) (float64, bool) {
	m, ok := t.massDiff[tracerIso]
	if !ok {
		return 0, false
	}
	d, ok := m[candidate]
	return d, ok
}

// CandidateElement maps an indistinguishable-candidate name to its
// element symbol: isotope names resolve to their element, element
// names pass through.
func (t *Table) CandidateElement(name string) string {
	if d, ok := t.isotopes[name]; ok {
		return d.element
	}
	return name
}

// CandidateVector resolves a candidate name to the element whose atom
// count scales the folding, and the probability vector to fold. An
// element name uses its full vector. A single isotope name gets the
// element vector reduced to the base and the isotope's own position,
// so only that isotope's contribution is folded. When both heavy
// isotopes of one element appear in the same candidate list, the +1
// isotope keeps the base probability and the +2 isotope carries only
// its own position: folding both then equals folding the full vector.
// An explicit entry in vectors under the candidate name wins.
func (t *Table) CandidateVector(name string, vectors map[string][]float64, list []string) (string, []float64, error) {
	if v, ok := vectors[name]; ok {
		return t.CandidateElement(name), append([]float64(nil), v...), nil
	}
	d, isIso := t.isotopes[name]
	if !isIso {
		return "", nil, fmt.Errorf("%w: %q", ErrNoAbundanceData, name)
	}
	base, ok := vectors[d.element]
	if !ok || len(base) <= d.shift {
		return "", nil, fmt.Errorf("%w: %q", ErrNoAbundanceData, d.element)
	}
	vec := make([]float64, len(base))
	if d.shift == 2 && containsOther(list, t.heavy[d.element], name) {
		vec[2] = base[2]
		return d.element, vec, nil
	}
	vec[0] = base[0]
	vec[d.shift] = base[d.shift]
	return d.element, vec, nil
}

// containsOther reports whether any heavy isotope of the element
// other than name is also in the candidate list.
func containsOther(list, heavy []string, name string) bool {
	for _, h := range heavy {
		if h == name {
			continue
		}
		for _, c := range list {
			if c == h {
				return true
			}
		}
	}
	return false
}
