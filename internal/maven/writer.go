package maven

import (
	"encoding/csv"
	"io"
	"strconv"
)

// WriteCorrected writes the corrected table to w as long-form CSV
// with an added "NA Corrected" column.
func WriteCorrected(w io.Writer, rows []CorrectedMeasurement) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Name", "Formula", "Label", "Sample", "Intensity", "NA Corrected"}); err != nil {
		return err
	}
	rec := make([]string, 6)
	for _, row := range rows {
		rec[0] = row.Name
		rec[1] = row.Formula
		rec[2] = row.Label
		rec[3] = row.Sample
		rec[4] = formatFloat(row.Intensity)
		rec[5] = formatFloat(row.NACorrected)
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
