package maven

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

// Read parses an intensity table from r. Both layouts produced by
// El-MAVEN are accepted: the long form with Sample and Intensity
// columns, and the wide form where every column after Name, Formula
// and Label holds one sample's intensities. Empty intensity cells
// read as 0.
func Read(r io.Reader) ([]Measurement, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, req := range []string{"Name", "Formula", "Label"} {
		if _, ok := col[req]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrBadHeader, req)
		}
	}
	_, haveSample := col["Sample"]
	_, haveIntensity := col["Intensity"]
	long := haveSample && haveIntensity

	// In the wide layout every remaining column is a sample.
	var samples []int
	if !long {
		for i, h := range header {
			switch strings.TrimSpace(h) {
			case "Name", "Formula", "Label", "":
			default:
				samples = append(samples, i)
			}
		}
	}

	var out []Measurement
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if emptyRecord(rec) {
			continue
		}
		if long {
			m := Measurement{
				Name:    field(rec, col["Name"]),
				Formula: field(rec, col["Formula"]),
				Label:   field(rec, col["Label"]),
				Sample:  field(rec, col["Sample"]),
			}
			m.Intensity, err = parseIntensity(field(rec, col["Intensity"]))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			out = append(out, m)
			continue
		}
		for _, si := range samples {
			m := Measurement{
				Name:    field(rec, col["Name"]),
				Formula: field(rec, col["Formula"]),
				Label:   field(rec, col["Label"]),
				Sample:  strings.TrimSpace(header[si]),
			}
			m.Intensity, err = parseIntensity(field(rec, si))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// ReadFile reads an intensity table from path. A non-empty encoding
// names the file's character set, e.g. "latin1" or "windows-1252";
// the content is converted to UTF-8 before parsing.
func ReadFile(path, encoding string) ([]Measurement, error) {
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
	return Read(r)
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

func parseIntensity(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad intensity %q: %w", s, err)
	}
	return v, nil
}
