package dataset

import (
	"fmt"

	"github.com/montanaflynn/stats"
)

// NumericSummary returns one human-readable line per numeric field with its
// min, mean, median and max. These lines are appended to run diagnostics so
// a result can be sanity-checked without reopening the dataset.
func NumericSummary(ds *Dataset) []string {
	var lines []string
	for _, f := range ds.Fields {
		values, ok := ds.Numeric(f.Name)
		if !ok || len(values) == 0 {
			continue
		}

		minV, err := stats.Min(values)
		if err != nil {
			continue
		}
		maxV, err := stats.Max(values)
		if err != nil {
			continue
		}
		mean, err := stats.Mean(values)
		if err != nil {
			continue
		}
		median, err := stats.Median(values)
		if err != nil {
			continue
		}

		lines = append(lines, fmt.Sprintf("%s: min=%.6g mean=%.6g median=%.6g max=%.6g",
			f.Name, minV, mean, median, maxV))
	}
	return lines
}
