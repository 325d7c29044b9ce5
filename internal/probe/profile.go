package probe

import (
	"math"
	"strings"

	"sheetetl/internal/workbook"
)

// Column is the inferred profile of one sheet column.
type Column struct {
	Index         int       `json:"index"`
	Name          string    `json:"name"`
	InferredType  ValueType `json:"inferred_type"`
	NonEmptyRatio float64   `json:"non_empty_ratio"`
	Samples       []string  `json:"samples"`
}

type columnStats struct {
	nonEmpty int
	date     int
	numeric  int
	text     int
	samples  []string
}

// ProfileColumns samples data rows and infers a type per column.
//
// When to use:
//   - After DetectHeaderRow/NormalizeHeaders, with dataStart = header row + 1.
//
// Behavior:
//   - Samples at most th.SampleRows rows starting at dataStart, bounded by the
//     sheet's last row, over len(headers) columns.
//   - The type is date when date >= numeric, date >= text and date > 0;
//     else numeric when numeric >= text and numeric > 0; else text.
//   - The non-empty ratio is nonEmpty / max(sampled, 1), rounded to 4 places.
//
// Edge cases:
//   - Columns below th.MinNonEmptyRatio are dropped from the result.
//   - A sheet with no data rows yields no columns.
func ProfileColumns(sh *workbook.Sheet, headers []string, dataStart int, th Thresholds) []Column {
	th = th.WithDefaults()
	width := len(headers)
	stats := make([]columnStats, width)

	last := sh.MaxRow()
	if end := dataStart + th.SampleRows - 1; end < last {
		last = end
	}

	sampled := 0
	for r := dataStart; r <= last; r++ {
		sampled++
		row := sh.Row(r)
		for ci := 0; ci < width && ci < len(row); ci++ {
			c := row[ci]
			if c.IsBlank() {
				continue
			}
			st := &stats[ci]
			st.nonEmpty++
			switch InferValueType(c) {
			case TypeDate:
				st.date++
			case TypeNumeric:
				st.numeric++
			default:
				st.text++
			}
			if len(st.samples) < th.MaxSamples {
				st.samples = append(st.samples, truncateRunes(strings.TrimSpace(c.String()), th.MaxSampleLen))
			}
		}
	}

	if sampled < 1 {
		sampled = 1
	}

	out := make([]Column, 0, width)
	for ci := range stats {
		st := stats[ci]
		ratio := float64(st.nonEmpty) / float64(sampled)
		if ratio < th.MinNonEmptyRatio {
			continue
		}
		samples := st.samples
		if samples == nil {
			samples = []string{}
		}
		out = append(out, Column{
			Index:         ci + 1,
			Name:          headers[ci],
			InferredType:  pickType(st),
			NonEmptyRatio: math.Round(ratio*10000) / 10000,
			Samples:       samples,
		})
	}
	return out
}

func pickType(st columnStats) ValueType {
	switch {
	case st.date >= st.numeric && st.date >= st.text && st.date > 0:
		return TypeDate
	case st.numeric >= st.text && st.numeric > 0:
		return TypeNumeric
	default:
		return TypeText
	}
}

// Roles partitions profiled columns by how rows will use them.
type Roles struct {
	Date      []string
	Metric    []string
	Dimension []string
}

// ClassifyColumns derives column roles, preserving profile order.
//
//   - Date: inferred date, or a header carrying a date token.
//   - Metric: inferred numeric with NonEmptyRatio >= th.MetricMinRatio.
//   - Dimension: every column that is neither.
//
// A numeric column with a date-like header lands in both Date and Metric.
func ClassifyColumns(cols []Column, th Thresholds) Roles {
	th = th.WithDefaults()
	roles := Roles{Date: []string{}, Metric: []string{}, Dimension: []string{}}
	for _, c := range cols {
		isDate := c.InferredType == TypeDate || HeaderLooksDate(c.Name)
		isMetric := c.InferredType == TypeNumeric && c.NonEmptyRatio >= th.MetricMinRatio
		if isDate {
			roles.Date = append(roles.Date, c.Name)
		}
		if isMetric {
			roles.Metric = append(roles.Metric, c.Name)
		}
		if !isDate && !isMetric {
			roles.Dimension = append(roles.Dimension, c.Name)
		}
	}
	return roles
}
