package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testParams(t *testing.T) (params, string) {
	t.Helper()
	dir := t.TempDir()
	strp := func(s string) *string { return &s }
	intp := func(i int) *int { return &i }
	floatp := func(f float64) *float64 { return &f }
	boolp := func(b bool) *bool { return &b }
	par := params{
		msms:               boolp(false),
		outFilename:        strp(filepath.Join(dir, "out.csv")),
		auditFilename:      strp(filepath.Join(dir, "audit.json")),
		enrichFilename:     strp(""),
		tracers:            strp("C13"),
		resMode:            strp(""),
		resPower:           floatp(0),
		resRefMass:         floatp(200),
		instrument:         strp("orbitrap"),
		confFilename:       strp(""),
		metaFilename:       strp(""),
		sampleMetaFilename: strp(""),
		decimals:           intp(2),
		workers:            intp(1),
		encoding:           strp(""),
		verbosity:          infoSilent,
	}
	return par, dir
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// readColumn parses one named float column of a CSV output file.
func readColumn(t *testing.T, path, column string) []float64 {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	col := -1
	for i, h := range recs[0] {
		if h == column {
			col = i
		}
	}
	if col < 0 {
		t.Fatalf("column %q not in %v", column, recs[0])
	}
	var out []float64
	for _, rec := range recs[1:] {
		v, err := strconv.ParseFloat(rec[col], 64)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, v)
	}
	return out
}

func approxFloats(want, got []float64, tol float64) string {
	return cmp.Diff(want, got, cmp.Comparer(func(a, b float64) bool {
		return math.Abs(a-b) <= tol
	}))
}

func TestParseTracerList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"C13", []string{"C13"}},
		{"C13,N15", []string{"C13", "N15"}},
		{" C13 , N15 ", []string{"C13", "N15"}},
		{"", nil},
	}
	for _, tc := range tests {
		if diff := cmp.Diff(tc.want, parseTracerList(tc.in)); diff != "" {
			t.Errorf("parseTracerList(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestSanatizeParamsMSMSNeedsNoTracers(t *testing.T) {
	// The MS/MS path derives the tracer from the transition labels,
	// so -tracers must not be required when -msms is set. A failed
	// check exits the test binary.
	par, dir := testParams(t)
	*par.msms = true
	*par.tracers = ""
	*par.outFilename = ""
	*par.auditFilename = ""
	*par.metaFilename = filepath.Join(dir, "meta.csv")
	par.args = []string{filepath.Join(dir, "raw.csv")}
	sanatizeParams(&par)
	if par.inFilename != par.args[0] {
		t.Errorf("inFilename = %q, want %q", par.inFilename, par.args[0])
	}
	if want := filepath.Join(dir, "raw-corrected.csv"); *par.outFilename != want {
		t.Errorf("outFilename = %q, want %q", *par.outFilename, want)
	}
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "conf.yaml")
	writeTestFile(t, fn, `tracers: [C13]
na_values:
  C: [0.95, 0.05]
  H: [0.98, 0.01, 0.01]
indistinguishable:
  C: [H, O]
`)
	conf, err := readConfig(fn)
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if diff := cmp.Diff([]string{"C13"}, conf.Tracers); diff != "" {
		t.Errorf("tracers mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string][]string{"C": {"H", "O"}}, conf.Indistinguishable); diff != "" {
		t.Errorf("indistinguishable mismatch (-want +got):\n%s", diff)
	}
}

func TestReadConfigRejectsBadVector(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "conf.yaml")
	writeTestFile(t, fn, "na_values:\n  C: [0.5, 0.4]\n")
	if _, err := readConfig(fn); !errors.Is(err, ErrConfig) {
		t.Errorf("readConfig error = %v, want ErrConfig", err)
	}
}

func TestDoLCMS(t *testing.T) {
	par, dir := testParams(t)
	input := filepath.Join(dir, "in.csv")
	writeTestFile(t, input, `Name,Formula,Label,Sample,Intensity
Acetic acid,H4C2O2,C12 PARENT,sample_1,0.3624
Acetic acid,H4C2O2,C13-label-1,sample_1,0.0403
Acetic acid,H4C2O2,C13-label-2,sample_1,0.5972
`)
	conf := filepath.Join(dir, "conf.yaml")
	writeTestFile(t, conf, `na_values:
  C: [0.95, 0.05]
  H: [0.98, 0.01, 0.01]
  O: [0.95, 0.03, 0.02]
`)
	*par.confFilename = conf
	par.inFilename = input
	*par.enrichFilename = filepath.Join(dir, "enrich.csv")

	if err := doLCMS(par); err != nil {
		t.Fatalf("doLCMS: %v", err)
	}

	got := readColumn(t, *par.outFilename, "NA Corrected")
	want := []float64{0.4016, 0.0023, 0.5961}
	if diff := approxFloats(want, got, 1e-4); diff != "" {
		t.Errorf("corrected mismatch (-want +got):\n%s", diff)
	}

	buf, err := os.ReadFile(*par.auditFilename)
	if err != nil {
		t.Fatal(err)
	}
	var audit map[string]map[string][]string
	if err := json.Unmarshal(buf, &audit); err != nil {
		t.Fatalf("audit JSON: %v", err)
	}
	if _, ok := audit["Acetic acid"]; !ok {
		t.Errorf("audit missing metabolite: %v", audit)
	}

	enrich := readColumn(t, *par.enrichFilename, "Fractional enrichment")
	sum := 0.0
	for _, v := range enrich {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("enrichment fractions sum to %v, want 1", sum)
	}
}

func TestDoMSMS(t *testing.T) {
	par, dir := testParams(t)
	*par.msms = true
	input := filepath.Join(dir, "raw.csv")
	writeTestFile(t, input, `Original Filename,Component Name,Area,Cohort Name
s1,DHAP 169/97,51670,control
s1,DHAP 170/97,1292.67,control
`)
	meta := filepath.Join(dir, "meta.csv")
	writeTestFile(t, meta, `Component Name,Unlabeled Fragment,Isotopic Tracer,Formula,Parent Formula,Mass Info
DHAP 169/97,DHAP 169/97,C13,H2O4P,C3H6O6P,169.0/97.0
DHAP 170/97,DHAP 169/97,C13,H2O4P,C3H6O6P,170.0/97.0
`)
	par.inFilename = input
	*par.metaFilename = meta

	if err := doMSMS(par); err != nil {
		t.Fatalf("doMSMS: %v", err)
	}
	got := readColumn(t, *par.outFilename, "NA Corrected")
	want := []float64{53390.61, -399.24}
	if diff := approxFloats(want, got, 1e-9); diff != "" {
		t.Errorf("corrected mismatch (-want +got):\n%s", diff)
	}
}
