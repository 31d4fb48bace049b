// Package formula parses chemical formula strings and computes
// molecular weights from standard atomic weights.
package formula

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrBadFormula = errors.New("malformed chemical formula")
var ErrUnknownElement = errors.New("unknown element in formula")

// Standard atomic weights (u) of elements that occur in metabolite
// formulas. Average mass over the natural isotope distribution.
var atomicWeight = map[string]float64{
	"H":  1.00794,
	"B":  10.811,
	"C":  12.0107,
	"N":  14.0067,
	"O":  15.9994,
	"F":  18.9984032,
	"Na": 22.98977,
	"Mg": 24.305,
	"Al": 26.9815386,
	"Si": 28.0855,
	"P":  30.973762,
	"S":  32.065,
	"Cl": 35.453,
	"K":  39.0983,
	"Ca": 40.078,
	"Cr": 51.9961,
	"Mn": 54.938045,
	"Fe": 55.845,
	"Co": 58.933195,
	"Ni": 58.6934,
	"Cu": 63.546,
	"Zn": 65.409,
	"As": 74.9216,
	"Se": 78.96,
	"Br": 79.904,
	"Mo": 95.94,
	"I":  126.90447,
	"Li": 6.941,
}

// Formula is a parsed chemical formula. The element order of the
// input string is preserved for deterministic iteration.
type Formula struct {
	symbols []string
	counts  map[string]int
}

var symCountRe = regexp.MustCompile(`([A-Z][a-z]?)(\d*)`)

// Parse converts a string like "C5H10NO2S" into a Formula. A symbol
// without a number counts as one atom, repeated symbols accumulate.
// Unknown element symbols and anything that is not a symbol/count
// sequence are rejected.
func Parse(s string) (Formula, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Formula{}, fmt.Errorf("%w: empty string", ErrBadFormula)
	}
	f := Formula{counts: make(map[string]int)}
	covered := 0
	for _, m := range symCountRe.FindAllStringSubmatch(s, -1) {
		covered += len(m[0])
		sym := m[1]
		if _, ok := atomicWeight[sym]; !ok {
			return Formula{}, fmt.Errorf("%w: %q in %q", ErrUnknownElement, sym, s)
		}
		n := 1
		if m[2] != "" {
			var err error
			n, err = strconv.Atoi(m[2])
			if err != nil {
				return Formula{}, fmt.Errorf("%w: %q", ErrBadFormula, s)
			}
		}
		if _, seen := f.counts[sym]; !seen {
			f.symbols = append(f.symbols, sym)
		}
		f.counts[sym] += n
	}
	if covered != len(s) {
		return Formula{}, fmt.Errorf("%w: %q", ErrBadFormula, s)
	}
	return f, nil
}

// Count returns the number of atoms of an element, 0 if absent.
func (f Formula) Count(sym string) int {
	return f.counts[sym]
}

// Has reports whether the element occurs in the formula.
func (f Formula) Has(sym string) bool {
	_, ok := f.counts[sym]
	return ok
}

// Elements returns the element symbols in input order.
func (f Formula) Elements() []string {
	return append([]string(nil), f.symbols...)
}

// NumAtoms returns the total number of atoms.
func (f Formula) NumAtoms() int {
	n := 0
	for _, c := range f.counts {
		n += c
	}
	return n
}

// MolecularWeight returns the average molecular weight in u.
func (f Formula) MolecularWeight() float64 {
	var m float64
	for sym, n := range f.counts {
		m += atomicWeight[sym] * float64(n)
	}
	return m
}

// String reassembles the formula in input element order. A count of
// one is left implicit, like in the input convention.
func (f Formula) String() string {
	var b strings.Builder
	for _, sym := range f.symbols {
		b.WriteString(sym)
		if n := f.counts[sym]; n != 1 {
			b.WriteString(strconv.Itoa(n))
		}
	}
	return b.String()
}
