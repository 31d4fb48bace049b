package maven

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseLabel(t *testing.T) {
	tests := []struct {
		label   string
		tracers []string
		want    []int
	}{
		{"C13-label-2", []string{"C13"}, []int{2}},
		{"C13-label-0", []string{"C13"}, []int{0}},
		{"C12 PARENT", []string{"C13"}, []int{0}},
		{"C12 PARENT", []string{"C13", "N15"}, []int{0, 0}},
		{"C13-label-2", []string{"C13", "N15"}, []int{2, 0}},
		{"N15-label-1", []string{"C13", "N15"}, []int{0, 1}},
		{"C13N15-label-2-1", []string{"C13", "N15"}, []int{2, 1}},
		{"N15C13-label-1-2", []string{"C13", "N15"}, []int{2, 1}},
	}
	for _, tc := range tests {
		got, err := ParseLabel(tc.label, tc.tracers)
		if err != nil {
			t.Errorf("ParseLabel(%q, %v): %v", tc.label, tc.tracers, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseLabel(%q, %v) mismatch (-want +got):\n%s", tc.label, tc.tracers, diff)
		}
	}
}

func TestParseLabelErrors(t *testing.T) {
	bad := []struct {
		label   string
		tracers []string
	}{
		{"C13", []string{"C13"}},
		{"C13-label-", []string{"C13"}},
		{"C13-label-x", []string{"C13"}},
		{"C13-label--1", []string{"C13"}},
		{"C13N15-label-2", []string{"C13", "N15"}},
		{"O18-label-1", []string{"C13"}},
		{"-label-2", []string{"C13"}},
	}
	for _, tc := range bad {
		if _, err := ParseLabel(tc.label, tc.tracers); !errors.Is(err, ErrBadLabel) {
			t.Errorf("ParseLabel(%q, %v) error = %v, want ErrBadLabel", tc.label, tc.tracers, err)
		}
	}
}

func TestFormatLabel(t *testing.T) {
	tests := []struct {
		tracers []string
		counts  []int
		want    string
	}{
		{[]string{"C13"}, []int{2}, "C13-label-2"},
		{[]string{"C13"}, []int{0}, "C13-label-0"},
		{[]string{"C13", "N15"}, []int{2, 1}, "C13N15-label-2-1"},
		{[]string{"C13", "N15"}, []int{0, 0}, "C13N15-label-0-0"},
	}
	for _, tc := range tests {
		if got := FormatLabel(tc.tracers, tc.counts); got != tc.want {
			t.Errorf("FormatLabel(%v, %v) = %q, want %q", tc.tracers, tc.counts, got, tc.want)
		}
	}

	// Format and parse are inverse on canonical labels.
	counts, err := ParseLabel(FormatLabel([]string{"C13", "N15"}, []int{3, 2}), []string{"C13", "N15"})
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if diff := cmp.Diff([]int{3, 2}, counts); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadLongForm(t *testing.T) {
	in := strings.Join([]string{
		"Name,Formula,Label,Sample,Intensity",
		"Acetic,H4C2O2,C12 PARENT,S1,0.3624",
		"Acetic,H4C2O2,C13-label-1,S1,0.0403",
		"Acetic,H4C2O2,C13-label-2,S1,",
		"",
	}, "\n")
	got, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []Measurement{
		{"Acetic", "H4C2O2", "C12 PARENT", "S1", 0.3624},
		{"Acetic", "H4C2O2", "C13-label-1", "S1", 0.0403},
		{"Acetic", "H4C2O2", "C13-label-2", "S1", 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}
}

func TestReadWideForm(t *testing.T) {
	in := strings.Join([]string{
		"Name,Formula,Label,sample_1,sample_2",
		"Glc,C6H12O6,C12 PARENT,100,200",
		"Glc,C6H12O6,C13-label-1,10,20",
	}, "\n")
	got, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []Measurement{
		{"Glc", "C6H12O6", "C12 PARENT", "sample_1", 100},
		{"Glc", "C6H12O6", "C12 PARENT", "sample_2", 200},
		{"Glc", "C6H12O6", "C13-label-1", "sample_1", 10},
		{"Glc", "C6H12O6", "C13-label-1", "sample_2", 20},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}
}

func TestReadStripsByteOrderMark(t *testing.T) {
	in := "\uFEFFName,Formula,Label,Sample,Intensity\nGlc,C6H12O6,C12 PARENT,S1,100\n"
	got, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []Measurement{{"Glc", "C6H12O6", "C12 PARENT", "S1", 100}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}
}

func TestReadErrors(t *testing.T) {
	if _, err := Read(strings.NewReader("Name,Formula,Sample\n")); !errors.Is(err, ErrBadHeader) {
		t.Errorf("missing Label column: error = %v, want ErrBadHeader", err)
	}
	in := "Name,Formula,Label,Sample,Intensity\nA,C2,C12 PARENT,S1,oops\n"
	_, err := Read(strings.NewReader(in))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("bad intensity: error = %v, want line number", err)
	}
}

func TestWriteCorrected(t *testing.T) {
	rows := []CorrectedMeasurement{
		{Measurement{"Acetic", "H4C2O2", "C12 PARENT", "S1", 0.3624}, 0.4016},
		{Measurement{"Acetic", "H4C2O2", "C13-label-2", "S1", 0.5972}, -0.0021},
	}
	var buf bytes.Buffer
	if err := WriteCorrected(&buf, rows); err != nil {
		t.Fatalf("WriteCorrected: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "Name,Formula,Label,Sample,Intensity,NA Corrected" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[2] != "Acetic,H4C2O2,C13-label-2,S1,0.5972,-0.0021" {
		t.Errorf("row = %q", lines[2])
	}

	// The written table reads back as a long-form table.
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read back: %v", err)
	}
	if len(got) != 2 || got[0].Intensity != 0.3624 {
		t.Errorf("read back = %+v", got)
	}
}

func TestReadFileDecodesEncoding(t *testing.T) {
	// "Citrate" with an e-acute, encoded as latin1 byte 0xE9.
	raw := []byte("Name,Formula,Label,Sample,Intensity\nCitrat\xe9,C6H8O7,C12 PARENT,S1,1.5\n")
	fn := filepath.Join(t.TempDir(), "latin1.csv")
	if err := os.WriteFile(fn, raw, 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(fn, "latin1")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := []Measurement{{"Citraté", "C6H8O7", "C12 PARENT", "S1", 1.5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadFile mismatch (-want +got):\n%s", diff)
	}
}
