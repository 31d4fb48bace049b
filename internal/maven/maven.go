// Package maven reads and writes metabolite isotopologue intensity
// tables as exported by El-MAVEN. Tables are handled in long form,
// one row per (metabolite, label, sample); the reader also accepts
// the wide export with one column per sample. Label strings encode
// tracer identity and per-tracer label counts, e.g. "C13-label-2" or
// "C13N15-label-2-1" for double tracers.
package maven

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// UnlabeledLabel marks the fully unlabeled form in input files. On
// output the zero label is always written in canonical form, e.g.
// "C13-label-0".
const UnlabeledLabel = "C12 PARENT"

// Measurement is one observed intensity in the long-form table.
type Measurement struct {
	Name      string
	Formula   string
	Label     string
	Sample    string
	Intensity float64
}

// CorrectedMeasurement is a Measurement with its natural-abundance
// corrected intensity. Corrected values may be negative; clipping is
// left to post-processing.
type CorrectedMeasurement struct {
	Measurement
	NACorrected float64
}

var (
	ErrBadLabel  = errors.New("maven: malformed label")
	ErrBadHeader = errors.New("maven: missing required column")
)

var isotopeGroupRe = regexp.MustCompile(`[A-Z][a-z]?\d+`)

// ParseLabel decodes a label string into per-tracer label counts, in
// the order of tracers. Tracers absent from the label get count 0.
// The unlabeled sentinel decodes to all zeros. A label naming an
// isotope that is not a configured tracer is an error.
func ParseLabel(label string, tracers []string) ([]int, error) {
	counts := make([]int, len(tracers))
	if strings.Contains(label, "PARENT") {
		return counts, nil
	}
	group, nums, ok := strings.Cut(label, "-label-")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBadLabel, label)
	}
	isotopes := isotopeGroupRe.FindAllString(group, -1)
	matched := 0
	for _, iso := range isotopes {
		matched += len(iso)
	}
	if len(isotopes) == 0 || matched != len(group) {
		return nil, fmt.Errorf("%w: %q", ErrBadLabel, label)
	}
	parts := strings.Split(nums, "-")
	if len(parts) != len(isotopes) {
		return nil, fmt.Errorf("%w: %q has %d isotopes but %d counts",
			ErrBadLabel, label, len(isotopes), len(parts))
	}
	for i, iso := range isotopes {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q", ErrBadLabel, label)
		}
		pos := -1
		for j, tr := range tracers {
			if tr == iso {
				pos = j
				break
			}
		}
		if pos < 0 {
			return nil, fmt.Errorf("%w: %q names %s which is not a configured tracer",
				ErrBadLabel, label, iso)
		}
		counts[pos] = n
	}
	return counts, nil
}

// FormatLabel encodes per-tracer label counts into the canonical
// label string: tracer names concatenated in order, "-label-", then
// the counts joined by "-".
func FormatLabel(tracers []string, counts []int) string {
	var b strings.Builder
	for _, tr := range tracers {
		b.WriteString(tr)
	}
	b.WriteString("-label")
	for _, n := range counts {
		b.WriteByte('-')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
