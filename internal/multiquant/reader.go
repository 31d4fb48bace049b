package multiquant

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

// ReadRaw parses the raw MultiQuant export. Required columns are
// "Original Filename", "Component Name" and "Area"; "Cohort Name" is
// optional and reads as empty when absent. Empty area cells read
// as 0.
func ReadRaw(r io.Reader) ([]RawRow, error) {
	recs, col, err := readTable(r, "Original Filename", "Component Name", "Area")
	if err != nil {
		return nil, err
	}
	out := make([]RawRow, 0, len(recs))
	for line, rec := range recs {
		row := RawRow{
			Sample:   field(rec, col["Original Filename"]),
			Fragment: field(rec, col["Component Name"]),
			Cohort:   field(rec, colIdx(col, "Cohort Name")),
		}
		row.Intensity, err = parseArea(field(rec, col["Area"]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+2, err)
		}
		out = append(out, row)
	}
	return out, nil
}

// ReadMetadata parses the fragment metadata file.
func ReadMetadata(r io.Reader) ([]MetaRow, error) {
	recs, col, err := readTable(r, "Component Name", "Unlabeled Fragment",
		"Isotopic Tracer", "Formula", "Parent Formula", "Mass Info")
	if err != nil {
		return nil, err
	}
	out := make([]MetaRow, 0, len(recs))
	for _, rec := range recs {
		out = append(out, MetaRow{
			Fragment:      field(rec, col["Component Name"]),
			Unlabeled:     field(rec, col["Unlabeled Fragment"]),
			Tracer:        field(rec, col["Isotopic Tracer"]),
			Formula:       field(rec, col["Formula"]),
			ParentFormula: field(rec, col["Parent Formula"]),
			MassInfo:      field(rec, col["Mass Info"]),
		})
	}
	return out, nil
}

// ReadSampleMetadata parses the sample metadata file.
func ReadSampleMetadata(r io.Reader) ([]SampleRow, error) {
	recs, col, err := readTable(r, "Original Filename", "Cohort Name", "Background Sample")
	if err != nil {
		return nil, err
	}
	out := make([]SampleRow, 0, len(recs))
	for _, rec := range recs {
		out = append(out, SampleRow{
			Sample:     field(rec, col["Original Filename"]),
			Cohort:     field(rec, col["Cohort Name"]),
			Background: field(rec, col["Background Sample"]),
		})
	}
	return out, nil
}

// ReadRawFile, ReadMetadataFile and ReadSampleMetadataFile read the
// respective table from a file. A non-empty encoding names the
// file's character set; the content is converted to UTF-8 before
// parsing.
func ReadRawFile(path, encoding string) ([]RawRow, error) {
	return readFile(path, encoding, ReadRaw)
}

func ReadMetadataFile(path, encoding string) ([]MetaRow, error) {
	return readFile(path, encoding, ReadMetadata)
}

func ReadSampleMetadataFile(path, encoding string) ([]SampleRow, error) {
	return readFile(path, encoding, ReadSampleMetadata)
}

func readFile[T any](path, encoding string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if encoding != "" {
		r, err = charset.NewReaderLabel(encoding, f)
		if err != nil {
			return nil, err
		}
	}
	return read(r)
}

// readTable reads a CSV into records plus a header index, verifying
// the required columns. Columns not listed in required may be absent;
// their index then reads as -1.
func readTable(r io.Reader, required ...string) ([][]string, map[string]int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, req := range required {
		if _, ok := col[req]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrBadHeader, req)
		}
	}
	var recs [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if !emptyRecord(rec) {
			recs = append(recs, rec)
		}
	}
	return recs, col, nil
}

// colIdx is the index of an optional column, -1 when absent.
func colIdx(col map[string]int, name string) int {
	if i, ok := col[name]; ok {
		return i
	}
	return -1
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func emptyRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func parseArea(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad area %q: %w", s, err)
	}
	return v, nil
}
