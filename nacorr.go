package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/524D/nacorr/internal/isotope"
	"github.com/524D/nacorr/internal/lcms"
	"github.com/524D/nacorr/internal/maven"
	"github.com/524D/nacorr/internal/msms"
	"github.com/524D/nacorr/internal/multiquant"
	"github.com/524D/nacorr/internal/postprocess"
	"github.com/524D/nacorr/internal/resolution"
)

const progName = "nacorr"

var progVersion = `Unknown`

const (
	infoDefault = iota
	infoSilent
	infoVerbose
)

// Command line parameters
type params struct {
	msms               *bool    // Correct MRM transition data instead of full scan
	outFilename        *string  // Filename of the corrected output table
	auditFilename      *string  // Filename for the JSON correction audit
	enrichFilename     *string  // Filename for the fractional enrichment table
	tracers            *string  // Comma separated tracer isotopes
	resMode            *string  // Resolution mode as specified by user
	resPower           *float64 // Instrument resolving power
	resRefMass         *float64 // Mass at which resPower was calibrated
	instrument         *string  // Instrument type for autodetect
	confFilename       *string  // YAML run configuration
	metaFilename       *string  // MS/MS fragment metadata
	sampleMetaFilename *string  // MS/MS sample metadata (cohorts/backgrounds)
	decimals           *int     // Rounding of MS/MS corrected intensities
	workers            *int     // Metabolites corrected in parallel
	encoding           *string  // Character set of the input files
	inFilename         string   // Input table, from the command line argument
	verbosity          int      // Verbosity of progress messages (infoDefault...)
	args               []string // Additional values passed on the command line
	debug              bool     // Enable debug info (environment variable NACORR_DEBUG=1)
}

func sanatizeParams(par *params) {
	exeName := filepath.Base(os.Args[0])

	if len(par.args) != 1 {
		fmt.Fprintf(os.Stderr, `Last argument must be name of the input CSV file.
Type %s --help for usage
`, exeName)
		os.Exit(2)
	}
	par.inFilename = par.args[0]
	var extension = filepath.Ext(par.inFilename)
	var startName = par.inFilename[0 : len(par.inFilename)-len(extension)]

	if *par.outFilename == "" {
		*par.outFilename = startName + "-corrected.csv"
	}
	if *par.auditFilename == "" {
		*par.auditFilename = startName + "-audit.json"
	}
	if !*par.msms && *par.tracers == "" && *par.confFilename == "" {
		fmt.Fprintf(os.Stderr, `No tracers specified (use -tracers or a configuration file).
Type %s --help for usage
`, exeName)
		os.Exit(2)
	}
	if *par.msms && *par.metaFilename == "" {
		fmt.Fprintf(os.Stderr, `MS/MS correction needs fragment metadata (-meta).
Type %s --help for usage
`, exeName)
		os.Exit(2)
	}
}

// parseTracerList splits the -tracers argument into isotope names.
func parseTracerList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// resolutionSettings converts the resolution flags, nil when no mode
// was requested (manual indistinguishable configuration applies).
func resolutionSettings(par params) (*resolution.Settings, error) {
	if *par.resMode == "" {
		return nil, nil
	}
	mode, err := resolution.ParseMode(*par.resMode)
	if err != nil {
		return nil, err
	}
	s := resolution.Settings{Mode: mode, Power: *par.resPower, RefMass: *par.resRefMass}
	if mode == resolution.Autodetect {
		if s.Instrument, err = resolution.ParseInstrument(*par.instrument); err != nil {
			return nil, err
		}
		if s.Power <= 0 || s.RefMass <= 0 {
			return nil, fmt.Errorf("autodetect needs -res and -resmw greater than zero")
		}
	}
	return &s, nil
}

func doLCMS(par params) error {
	var conf runConfig
	if *par.confFilename != "" {
		c, err := readConfig(*par.confFilename)
		if err != nil {
			return err
		}
		conf = *c
	}
	tracers := parseTracerList(*par.tracers)
	if len(tracers) == 0 {
		tracers = conf.Tracers
	}
	res, err := resolutionSettings(par)
	if err != nil {
		return err
	}

	if par.verbosity != infoSilent {
		fmt.Fprintf(os.Stderr, "Reading %s\n", par.inFilename)
	}
	rows, err := maven.ReadFile(par.inFilename, *par.encoding)
	if err != nil {
		return fmt.Errorf("reading %s: %w", par.inFilename, err)
	}
	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "Correcting %d rows for tracers %s\n",
			len(rows), strings.Join(tracers, ","))
	}

	tab := isotope.DefaultTable()
	cfg := lcms.Config{
		Tracers:           tracers,
		NAVectors:         conf.NAValues,
		Indistinguishable: conf.Indistinguishable,
		Resolution:        res,
		Workers:           *par.workers,
	}
	result, err := lcms.Correct(rows, cfg, tab)
	if err != nil {
		return err
	}
	if par.debug {
		debugLogMatrices(rows, cfg, tab)
	}

	if err := writeCorrectedFile(*par.outFilename, result.Rows); err != nil {
		return err
	}
	if err := writeAudit(*par.auditFilename, result.Audit); err != nil {
		return err
	}
	if *par.enrichFilename != "" {
		if err := writeEnrichment(*par.enrichFilename, result.Rows); err != nil {
			return err
		}
	}
	if par.verbosity != infoSilent {
		fmt.Fprintf(os.Stderr, "Wrote %s\n", *par.outFilename)
	}
	return nil
}

func doMSMS(par params) error {
	if par.verbosity != infoSilent {
		fmt.Fprintf(os.Stderr, "Reading %s\n", par.inFilename)
	}
	raw, err := multiquant.ReadRawFile(par.inFilename, *par.encoding)
	if err != nil {
		return fmt.Errorf("reading %s: %w", par.inFilename, err)
	}
	meta, err := multiquant.ReadMetadataFile(*par.metaFilename, *par.encoding)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *par.metaFilename, err)
	}
	var sampleMeta []multiquant.SampleRow
	if *par.sampleMetaFilename != "" {
		sampleMeta, err = multiquant.ReadSampleMetadataFile(*par.sampleMetaFilename, *par.encoding)
		if err != nil {
			return fmt.Errorf("reading %s: %w", *par.sampleMetaFilename, err)
		}
	}

	rows, err := multiquant.Merge(raw, meta, sampleMeta)
	if err != nil {
		return err
	}
	cfg := msms.Config{Decimals: *par.decimals}
	if len(sampleMeta) > 0 {
		cfg.ReplicateGroups, cfg.BackgroundOf = multiquant.ReplicateGroups(sampleMeta)
	}
	if par.verbosity == infoVerbose {
		fmt.Fprintf(os.Stderr, "Correcting %d transitions in %d replicate groups\n",
			len(rows), len(cfg.ReplicateGroups))
	}

	corrected, err := msms.Correct(rows, cfg, isotope.DefaultTable())
	if err != nil {
		return err
	}
	f, err := os.Create(*par.outFilename)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := multiquant.WriteCorrected(f, corrected); err != nil {
		return err
	}
	if par.verbosity != infoSilent {
		fmt.Fprintf(os.Stderr, "Wrote %s\n", *par.outFilename)
	}
	return nil
}

func writeCorrectedFile(filename string, rows []maven.CorrectedMeasurement) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return maven.WriteCorrected(f, rows)
}

// writeAudit records which indistinguishable elements were folded per
// metabolite and tracer element.
func writeAudit(filename string, audit map[string]map[string][]string) error {
	buf, err := json.MarshalIndent(audit, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, append(buf, '\n'), 0644)
}

// writeEnrichment derives the post-processed quantities from the
// corrected table: negatives replaced with zero, per-sample pool
// totals and fractional enrichment.
func writeEnrichment(filename string, rows []maven.CorrectedMeasurement) error {
	vals := make([]postprocess.Value, len(rows))
	for i, r := range rows {
		vals[i] = postprocess.Value{Name: r.Name, Label: r.Label, Sample: r.Sample, Value: r.NACorrected}
	}
	clipped := postprocess.ClipValues(vals)
	pools := postprocess.PoolTotal(clipped)
	enriched := postprocess.FractionalEnrichment(clipped)

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"Name", "Label", "Sample",
		"NA Corrected with zero", "Pool total", "Fractional enrichment"}); err != nil {
		return err
	}
	rec := make([]string, 6)
	for i, v := range clipped {
		rec[0] = v.Name
		rec[1] = v.Label
		rec[2] = v.Sample
		rec[3] = strconv.FormatFloat(v.Value, 'g', -1, 64)
		rec[4] = strconv.FormatFloat(pools[postprocess.PoolKey{Name: v.Name, Sample: v.Sample}], 'g', -1, 64)
		rec[5] = strconv.FormatFloat(enriched[i].Value, 'g', -1, 64)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func usage() {
	exeName := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr,
		`USAGE:
  %s [options] <inputfile>

  This program corrects isotope labeling measurements for the
  contribution of naturally occurring heavy isotopes. Full scan
  (LC-MS) tables are corrected by inverting a natural-abundance
  mixing matrix per metabolite; MRM transition tables (-msms) are
  corrected with the closed-form transition recurrence after
  background subtraction.

OPTIONS:
`, exeName)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr,
		`
ENVIRONMENT VARIABLES:
    When environment variable NACORR_DEBUG=1, the correction matrices of
    the metabolites named with -debugmetab are printed to standard output.

USAGE EXAMPLES:
  %s -tracers C13 experiment.csv
    Correct experiment.csv for a C13 tracer, write the corrected table to
    experiment-corrected.csv and the correction audit to
    experiment-audit.json.

  %s -tracers C13,N15 -resmode autodetect -res 100000 -resmw 200 -instrument orbitrap experiment.csv
    Idem for a double tracer, deciding per metabolite from the instrument
    resolution which elements are indistinguishable from each tracer.

  %s -msms -meta fragments.csv -samplemeta samples.csv raw.csv
    Correct an MRM transition table, subtracting cohort background noise
    before the recurrence.
`, exeName, exeName, exeName)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	var par params

	par.msms = flag.Bool("msms", false,
		`Correct MRM (MS/MS) transition data instead of full scan data.`)
	par.outFilename = flag.String("o",
		"",
		"`filename` of the corrected output table")
	par.auditFilename = flag.String("audit",
		"",
		"`filename` for the JSON audit of corrected indistinguishable elements")
	par.enrichFilename = flag.String("enrichment",
		"",
		"`filename` for the fractional enrichment table. If empty, no\nenrichment table is written.")
	par.tracers = flag.String("tracers",
		"",
		"comma separated tracer `isotopes`, e.g. C13 or C13,N15")
	par.resMode = flag.String("resmode",
		"",
		`resolution handling of indistinguishable isotopes.
Valid modes:
    low res: fold every candidate element completely (single tracer only)
    ultra high res: treat every candidate element as resolved
    autodetect: decide per element from the instrument resolution
If empty, the indistinguishable elements from the configuration file
are used as-is.`)
	par.resPower = flag.Float64("res",
		0.0,
		`instrument resolving power, e.g. 140000 (autodetect mode)`)
	par.resRefMass = flag.Float64("resmw",
		200.0,
		`mass at which the resolving power was calibrated (autodetect mode)`)
	par.instrument = flag.String("instrument",
		"orbitrap",
		"instrument `type`, \"orbitrap\" or \"ft-icr\" (autodetect mode)")
	par.confFilename = flag.String("conf",
		"",
		"YAML run configuration `filename` with tracers, natural abundance\noverrides and indistinguishable element lists")
	par.metaFilename = flag.String("meta",
		"",
		"fragment metadata `filename` (MS/MS)")
	par.sampleMetaFilename = flag.String("samplemeta",
		"",
		"sample metadata `filename` with cohorts and background samples (MS/MS).\nIf empty, background correction is skipped.")
	par.decimals = flag.Int("decimals",
		2,
		`decimal places of corrected MS/MS intensities. Negative disables rounding.`)
	par.workers = flag.Int("workers",
		0,
		`number of metabolites corrected in parallel. 0 (default) uses all CPUs.`)
	par.encoding = flag.String("encoding",
		"",
		"character `set` of the input files, e.g. windows-1252. If empty, UTF-8\nis assumed.")
	version := flag.Bool("version", false,
		`Show software version`)
	verbose := flag.Bool("verbose", false,
		`Print more verbose progress information`)
	quiet := flag.Bool("quiet", false,
		`Don't print any output except for errors`)
	flag.Usage = usage
	flag.Parse()
	if *version {
		fmt.Fprintf(os.Stderr, "%s version %s\n", progName, progVersion)
		return
	}
	if *verbose {
		par.verbosity = infoVerbose
	}
	if *quiet {
		par.verbosity = infoSilent
	}
	par.args = flag.Args()
	// Check if debug output should be enabled
	par.debug = os.Getenv("NACORR_DEBUG") == `1`

	sanatizeParams(&par)
	var err error
	if *par.msms {
		err = doMSMS(par)
	} else {
		err = doLCMS(par)
	}
	if err != nil {
		log.Fatalf("%s: %v", progName, err)
	}
}
