package multiquant

import (
	"encoding/csv"
	"io"
	"strconv"
)

// CorrectedMeasurement is a Measurement with its background and
// natural-abundance corrected intensities. Corrected values may be
// negative; clipping is left to post-processing.
type CorrectedMeasurement struct {
	Measurement
	BackgroundCorrected float64
	NACorrected         float64
}

// WriteCorrected writes the corrected transition table to w as CSV
// with added "Background Corrected" and "NA Corrected" columns.
func WriteCorrected(w io.Writer, rows []CorrectedMeasurement) error {
	cw := csv.NewWriter(w)
	header := []string{"Name", "Component Name", "Formula", "Parent Formula",
		"Label", "Sample", "Cohort", "Intensity", "Background Corrected", "NA Corrected"}
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for _, row := range rows {
		rec[0] = row.Name
		rec[1] = row.Fragment
		rec[2] = row.Formula
		rec[3] = row.ParentFormula
		rec[4] = row.Label
		rec[5] = row.Sample
		rec[6] = row.Cohort
		rec[7] = formatFloat(row.Intensity)
		rec[8] = formatFloat(row.BackgroundCorrected)
		rec[9] = formatFloat(row.NACorrected)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
