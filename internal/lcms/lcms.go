// Package lcms corrects full-scan LC-MS isotopologue tables for
// natural abundance. Per metabolite it builds one correction matrix
// per tracer, configured either from a user-supplied list of
// indistinguishable elements or from the instrument resolution
// detector, inverts each matrix and applies it to the observed
// intensities. Metabolites are independent and are corrected
// concurrently.
package lcms

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/524D/nacorr/internal/formula"
	"github.com/524D/nacorr/internal/isotope"
	"github.com/524D/nacorr/internal/maven"
	"github.com/524D/nacorr/internal/namatrix"
	"github.com/524D/nacorr/internal/resolution"
)

var (
	ErrNoTracers = errors.New("lcms: no tracers configured")
	// ErrTracerIndistinguishable rejects configurations that list a
	// tracer element as indistinguishable from another tracer; the
	// correction would then be applied twice.
	ErrTracerIndistinguishable = errors.New("lcms: a tracer element cannot be an indistinguishable element")
)

// Config holds the correction settings for one run.
type Config struct {
	// Tracers are the labeled isotopes in configuration order, e.g.
	// ["C13", "N15"]. The order fixes the canonical label format.
	Tracers []string
	// NAVectors overrides natural-abundance vectors per element or
	// per isotope; missing entries fall back to the built-in table.
	NAVectors map[string][]float64
	// Indistinguishable maps a tracer element to the candidates to
	// fold into its matrix. Only consulted when Resolution is nil.
	Indistinguishable map[string][]string
	// Resolution, when set, derives the candidates and their
	// correction limits from the instrument model instead.
	Resolution *resolution.Settings
	// Workers bounds the number of metabolites corrected in
	// parallel. Zero or negative selects the number of CPUs.
	Workers int
}

// Result is the corrected table plus the audit trail of which
// candidates were folded per metabolite and tracer element.
type Result struct {
	Rows  []maven.CorrectedMeasurement
	Audit map[string]map[string][]string
}

type labelCell struct {
	sum float64
	n   int
}

// metabGroup is the pivoted wide form of one metabolite: intensities
// keyed by canonical label and sample, duplicates averaged.
type metabGroup struct {
	name    string
	formula string
	order   []string
	counts  map[string][]int
	cells   map[string]map[string]*labelCell
}

// origRow remembers an input row so its label spelling and raw
// intensity can be re-attached after correction.
type origRow struct {
	label     string
	intensity float64
}

type wideRow struct {
	counts []int
	vals   map[string]float64
}

// Correct corrects the long-form table and returns it in long form
// with one row per metabolite, label and sample. Output labels cover
// the full grid 0..atomCount per tracer; rows absent from the input
// keep intensity 0 and the canonical label spelling.
func Correct(rows []maven.Measurement, cfg Config, tab *isotope.Table) (*Result, error) {
	if len(cfg.Tracers) == 0 {
		return nil, ErrNoTracers
	}
	tracers := make([]isotope.Tracer, len(cfg.Tracers))
	for i, iso := range cfg.Tracers {
		tr, err := tab.TracerFor(iso)
		if err != nil {
			return nil, err
		}
		tracers[i] = tr
	}
	if cfg.Resolution == nil {
		if err := validateIndistinguishable(cfg.Indistinguishable, tracers); err != nil {
			return nil, err
		}
	}
	vectors := tab.Vectors(cfg.NAVectors)

	samples := uniqueSamples(rows)
	originals, err := indexOriginals(rows, cfg.Tracers)
	if err != nil {
		return nil, err
	}
	metabs, err := pivot(rows, cfg.Tracers)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	type metabResult struct {
		rows  []maven.CorrectedMeasurement
		audit map[string][]string
	}
	results := make([]metabResult, len(metabs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, mg := range metabs {
		i, mg := i, mg
		g.Go(func() error {
			corrected, audit, err := correctMetabolite(mg, tracers, cfg, vectors, samples, originals, tab)
			if err != nil {
				return fmt.Errorf("%s: %w", mg.name, err)
			}
			results[i] = metabResult{rows: corrected, audit: audit}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Audit: make(map[string]map[string][]string, len(metabs))}
	for i, mg := range metabs {
		res.Rows = append(res.Rows, results[i].rows...)
		res.Audit[mg.name] = results[i].audit
	}
	return res, nil
}

func validateIndistinguishable(corr map[string][]string, tracers []isotope.Tracer) error {
	for _, list := range corr {
		for _, cand := range list {
			for _, tr := range tracers {
				if cand == tr.Element {
					return fmt.Errorf("%w: %s", ErrTracerIndistinguishable, cand)
				}
			}
		}
	}
	return nil
}

func uniqueSamples(rows []maven.Measurement) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		if !seen[r.Sample] {
			seen[r.Sample] = true
			out = append(out, r.Sample)
		}
	}
	return out
}

type origKey struct {
	name    string
	formula string
	label   string
	sample  string
}

func indexOriginals(rows []maven.Measurement, tracers []string) (map[origKey]origRow, error) {
	out := make(map[origKey]origRow, len(rows))
	for _, r := range rows {
		counts, err := maven.ParseLabel(r.Label, tracers)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Name, err)
		}
		key := origKey{r.Name, r.Formula, maven.FormatLabel(tracers, counts), r.Sample}
		out[key] = origRow{label: r.Label, intensity: r.Intensity}
	}
	return out, nil
}

// pivot groups rows per metabolite and canonical label, averaging
// duplicate (label, sample) cells. Metabolite and label order follow
// first appearance in the input; the formula is taken from the
// metabolite's first row.
func pivot(rows []maven.Measurement, tracers []string) ([]*metabGroup, error) {
	var metabs []*metabGroup
	byName := make(map[string]*metabGroup)
	for _, r := range rows {
		mg, ok := byName[r.Name]
		if !ok {
			mg = &metabGroup{
				name:    r.Name,
				formula: r.Formula,
				counts:  make(map[string][]int),
				cells:   make(map[string]map[string]*labelCell),
			}
			byName[r.Name] = mg
			metabs = append(metabs, mg)
		}
		counts, err := maven.ParseLabel(r.Label, tracers)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Name, err)
		}
		canon := maven.FormatLabel(tracers, counts)
		if _, ok := mg.cells[canon]; !ok {
			mg.order = append(mg.order, canon)
			mg.counts[canon] = counts
			mg.cells[canon] = make(map[string]*labelCell)
		}
		cell := mg.cells[canon][r.Sample]
		if cell == nil {
			cell = &labelCell{}
			mg.cells[canon][r.Sample] = cell
		}
		cell.sum += r.Intensity
		cell.n++
	}
	return metabs, nil
}

func correctMetabolite(mg *metabGroup, tracers []isotope.Tracer, cfg Config,
	vectors map[string][]float64, samples []string,
	originals map[origKey]origRow, tab *isotope.Table) ([]maven.CorrectedMeasurement, map[string][]string, error) {

	f, err := formula.Parse(mg.formula)
	if err != nil {
		return nil, nil, err
	}

	corrMap := cfg.Indistinguishable
	var limits map[string]int
	windowed := cfg.Resolution != nil
	if windowed {
		corrMap, limits, err = resolution.Detect(f, tracers, *cfg.Resolution, tab)
		if err != nil {
			return nil, nil, err
		}
	}

	pinvs := make([]*mat.Dense, len(tracers))
	for i, tr := range tracers {
		pinvs[i], err = matrixFor(tr, f, vectors, corrMap[tr.Element], limits, windowed, tab)
		if err != nil {
			return nil, nil, err
		}
	}

	table := make([]wideRow, 0, len(mg.order))
	for _, canon := range mg.order {
		vals := make(map[string]float64, len(samples))
		for _, s := range samples {
			if cell := mg.cells[canon][s]; cell != nil {
				vals[s] = cell.sum / float64(cell.n)
			}
		}
		table = append(table, wideRow{counts: mg.counts[canon], vals: vals})
	}
	for pos := range tracers {
		table = applyTracer(table, pos, pinvs[pos], samples)
	}
	sort.Slice(table, func(i, j int) bool { return lexLess(table[i].counts, table[j].counts) })

	out := make([]maven.CorrectedMeasurement, 0, len(table)*len(samples))
	for _, row := range table {
		canon := maven.FormatLabel(cfg.Tracers, row.counts)
		for _, s := range samples {
			m := maven.Measurement{
				Name:    mg.name,
				Formula: mg.formula,
				Label:   canon,
				Sample:  s,
			}
			if orig, ok := originals[origKey{mg.name, mg.formula, canon, s}]; ok {
				m.Label = orig.label
				m.Intensity = orig.intensity
			}
			out = append(out, maven.CorrectedMeasurement{Measurement: m, NACorrected: row.vals[s]})
		}
	}
	return out, corrMap, nil
}

// matrixFor builds and inverts the correction matrix for a single
// tracer. Manual candidate lists are folded with the mass-conserving
// grow fold; detector-driven lists use the windowed operator bounded
// by each candidate's correction limit. Candidates whose element is
// absent from the formula are skipped.
func matrixFor(tr isotope.Tracer, f formula.Formula, vectors map[string][]float64,
	candidates []string, limits map[string]int, windowed bool, tab *isotope.Table) (*mat.Dense, error) {

	vec, ok := vectors[tr.Element]
	if !ok {
		return nil, fmt.Errorf("no natural abundance vector for tracer element %s", tr.Element)
	}
	m := namatrix.Build(f.Count(tr.Element), vec)
	if windowed {
		bins, _ := m.Dims()
		var ops []*mat.Dense
		for _, cand := range candidates {
			elem, cvec, err := tab.CandidateVector(cand, vectors, candidates)
			if err != nil {
				return nil, err
			}
			if n := f.Count(elem); n > 0 {
				ops = append(ops, namatrix.ElementOperator(bins, n, cvec, limits[cand]))
			}
		}
		m = namatrix.ComposeFold(m, ops)
	} else {
		for _, cand := range candidates {
			elem, cvec, err := tab.CandidateVector(cand, vectors, candidates)
			if err != nil {
				return nil, err
			}
			if n := f.Count(elem); n > 0 {
				m = namatrix.AddElement(m, n, cvec)
			}
		}
	}
	return namatrix.Pinv(m)
}

// applyTracer corrects one tracer dimension of the wide table. Rows
// are grouped by the label counts of every other tracer; within each
// group the tracer's label counts index the observed bins, and the
// corrected rows span the full label range of the matrix.
func applyTracer(table []wideRow, pos int, pinv *mat.Dense, samples []string) []wideRow {
	labels, _ := pinv.Dims()
	type groupData struct {
		template []int
		obs      map[string]map[namatrix.LabelIndex]float64
	}
	var order []string
	groups := make(map[string]*groupData)
	for _, row := range table {
		key := otherKey(row.counts, pos)
		g, ok := groups[key]
		if !ok {
			tmpl := append([]int(nil), row.counts...)
			tmpl[pos] = 0
			g = &groupData{template: tmpl, obs: make(map[string]map[namatrix.LabelIndex]float64)}
			groups[key] = g
			order = append(order, key)
		}
		bin := namatrix.LabelIndex(row.counts[pos])
		for s, v := range row.vals {
			m := g.obs[s]
			if m == nil {
				m = make(map[namatrix.LabelIndex]float64)
				g.obs[s] = m
			}
			m[bin] = v
		}
	}

	out := make([]wideRow, 0, len(order)*labels)
	for _, key := range order {
		g := groups[key]
		corrected := make(map[string][]float64, len(samples))
		for _, s := range samples {
			corrected[s] = namatrix.Apply(pinv, g.obs[s])
		}
		for c := 0; c < labels; c++ {
			counts := append([]int(nil), g.template...)
			counts[pos] = c
			vals := make(map[string]float64, len(samples))
			for _, s := range samples {
				vals[s] = corrected[s][c]
			}
			out = append(out, wideRow{counts: counts, vals: vals})
		}
	}
	return out
}

func otherKey(counts []int, pos int) string {
	var b strings.Builder
	for i, c := range counts {
		if i == pos {
			continue
		}
		b.WriteString(strconv.Itoa(c))
		b.WriteByte('-')
	}
	return b.String()
}

func lexLess(a, b []int) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
