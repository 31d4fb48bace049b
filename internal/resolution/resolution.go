// Package resolution decides which elements of a metabolite the mass
// analyzer cannot separate from the tracer's isotopologues. The
// decision compares the resolution required to split two
// isotopologues, which follows from their mass difference, with the
// resolution the instrument actually delivers at the metabolite's
// mass. Unresolvable elements are reported together with a
// correction limit, the convolution depth that the matrix builder
// folds into the correction matrix.
package resolution

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/524D/nacorr/internal/formula"
	"github.com/524D/nacorr/internal/isotope"
)

// Mode selects how unresolvable elements are decided.
type Mode int

const (
	// LowRes treats every candidate element as unresolvable and
	// folds its full spread. Only valid for a single tracer.
	LowRes Mode = iota
	// UltraHighRes treats every candidate element as fully resolved:
	// correction limit 0, so only the depletion of the monoisotopic
	// peak is corrected, never bin mixing.
	UltraHighRes
	// Autodetect compares required and delivered ppm resolution per
	// candidate at the metabolite's mass.
	Autodetect
)

// Instrument identifies the resolution model of the analyzer.
// Resolving power falls off with mass differently for the two.
type Instrument int

const (
	Orbitrap Instrument = iota
	FTICR
)

// Candidates closer than this to the required resolution are treated
// as unresolvable with a warning.
const borderlinePPM = 0.5

var ErrMultiTracerLowRes = errors.New("low resolution data cannot be corrected for multiple tracers")
var ErrUnknownMode = errors.New("unknown resolution mode")
var ErrUnknownInstrument = errors.New("unknown instrument type")

// ParseMode converts the user-facing mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "low res":
		return LowRes, nil
	case "ultra high res":
		return UltraHighRes, nil
	case "autodetect":
		return Autodetect, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

func (m Mode) String() string {
	switch m {
	case LowRes:
		return "low res"
	case UltraHighRes:
		return "ultra high res"
	case Autodetect:
		return "autodetect"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseInstrument converts the user-facing instrument name.
func ParseInstrument(s string) (Instrument, error) {
	switch s {
	case "orbitrap":
		return Orbitrap, nil
	case "ft-icr":
		return FTICR, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownInstrument, s)
}

func (i Instrument) String() string {
	switch i {
	case Orbitrap:
		return "orbitrap"
	case FTICR:
		return "ft-icr"
	}
	return fmt.Sprintf("Instrument(%d)", int(i))
}

// Settings describes the analyzer used to acquire the data. Power is
// the resolving power measured at RefMass; both are only consulted
// in Autodetect mode.
type Settings struct {
	Mode       Mode
	Power      float64
	RefMass    float64
	Instrument Instrument
}

// RequiredPPM returns the resolution in ppm needed to separate two
// isotopologues massDiff apart at the given molecular mass.
func RequiredPPM(molMass, massDiff float64) float64 {
	return 1e6 * massDiff / molMass
}

// MachinePPM returns the resolution in ppm the analyzer delivers at
// the given mass. Orbitrap resolving power decays with the square
// root of mass, FT-ICR linearly.
func (s Settings) MachinePPM(molMass float64) float64 {
	switch s.Instrument {
	case FTICR:
		return 1e6 * 1.66 * molMass / (s.Power * s.RefMass)
	default:
		return 1e6 * 1.66 * math.Sqrt(molMass) / (s.Power * math.Sqrt(s.RefMass))
	}
}

// CorrectionLimit returns the convolution depth to fold for an
// unresolvable candidate massDiff away from the tracer. It is the
// ratio of delivered to required resolution, rounded down.
func (s Settings) CorrectionLimit(molMass, massDiff float64) int {
	var l float64
	switch s.Instrument {
	case FTICR:
		l = 1.66 * molMass * molMass / (s.Power * s.RefMass * massDiff)
	default:
		l = 1.66 * math.Pow(molMass, 1.5) / (s.Power * math.Sqrt(s.RefMass) * massDiff)
	}
	return int(math.Floor(l))
}

// unresolvable reports whether the analyzer fails to separate the
// candidate from the tracer. Within the borderline band the call
// warns and still treats the candidate as unresolvable.
func unresolvable(machinePPM, requiredPPM float64, formulaStr, candidate string) bool {
	if machinePPM >= requiredPPM-borderlinePPM && machinePPM <= requiredPPM+borderlinePPM {
		log.Printf("ppm requirement for %s:%s is borderline, results may be ambiguous (required %.4f ppm, instrument %.4f ppm)",
			formulaStr, candidate, requiredPPM, machinePPM)
		return true
	}
	return machinePPM > requiredPPM
}

// Candidates returns the elements of f whose heavy isotopes can fall
// into the tracers' mass bins: every formula element with known
// isotope data except the tracer elements themselves. Elements with
// a +2 isotope (O, S, Si) are expanded into their individual heavy
// isotopes so each can be tested against its own mass difference.
// Order follows the formula.
func Candidates(f formula.Formula, tracers []isotope.Tracer, tab *isotope.Table) []string {
	var out []string
	for _, elem := range f.Elements() {
		if isTracerElement(elem, tracers) {
			continue
		}
		if _, ok := tab.Vector(elem); !ok {
			continue
		}
		if heavy := tab.HeavyIsotopes(elem); heavy != nil {
			out = append(out, heavy...)
		} else {
			out = append(out, elem)
		}
	}
	return out
}

func isTracerElement(elem string, tracers []isotope.Tracer) bool {
	for _, tr := range tracers {
		if tr.Element == elem {
			return true
		}
	}
	return false
}

// Detect returns, per tracer element, the candidates the analyzer
// cannot resolve from that tracer, and the correction limit for each
// candidate. A candidate claimed by one tracer is withheld from
// later tracers so its natural abundance is corrected exactly once.
// Tracer elements absent from the formula get no entry.
func Detect(f formula.Formula, tracers []isotope.Tracer, s Settings, tab *isotope.Table) (map[string][]string, map[string]int, error) {
	switch s.Mode {
	case LowRes:
		if len(tracers) > 1 {
			return nil, nil, ErrMultiTracerLowRes
		}
	case UltraHighRes, Autodetect:
	default:
		return nil, nil, fmt.Errorf("%w: %v", ErrUnknownMode, s.Mode)
	}

	candidates := Candidates(f, tracers, tab)
	corr := make(map[string][]string)
	limits := make(map[string]int)
	claimed := make(map[string]bool)
	for _, tr := range tracers {
		if !f.Has(tr.Element) {
			continue
		}
		list := []string{}
		for _, cand := range candidates {
			if claimed[cand] {
				continue
			}
			switch s.Mode {
			case LowRes:
				limits[cand] = f.Count(tab.CandidateElement(cand)) + 100
			case UltraHighRes:
				limits[cand] = 0
			case Autodetect:
				dm, ok := tab.MassDiff(tr.Isotope, cand)
				if !ok {
					continue
				}
				mw := f.MolecularWeight()
				if !unresolvable(s.MachinePPM(mw), RequiredPPM(mw, dm), f.String(), cand) {
					continue
				}
				limits[cand] = s.CorrectionLimit(mw, dm)
			}
			list = append(list, cand)
			claimed[cand] = true
		}
		corr[tr.Element] = list
	}
	return corr, limits, nil
}
