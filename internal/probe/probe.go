// Package probe implements header detection and column type inference for
// spreadsheet sheets whose layout is not known in advance.
//
// The probe package is responsible for:
//   - Locating the most likely header row within a bounded scan window
//   - Deriving clean, de-duplicated column names from that row
//   - Classifying sampled values as date, numeric or text
//   - Profiling columns and deriving their roles (date / metric / dimension)
//
// Design constraints:
//   - Scans are bounded (rows, columns, sample size) by Thresholds.
//   - All inference is best-effort and never fails: unparseable values simply
//     count as text.
//   - Results depend only on cell contents, never on storage state.
package probe

// ValueType is the coarse semantic type of a cell or column.
type ValueType string

const (
	TypeDate    ValueType = "date"
	TypeNumeric ValueType = "numeric"
	TypeText    ValueType = "text"
)

// Thresholds bounds the heuristic scans. Zero fields fall back to the
// defaults returned by DefaultThresholds.
type Thresholds struct {
	// HeaderScanRows is how many leading rows are considered header candidates.
	HeaderScanRows int `json:"header_scan_rows" yaml:"header_scan_rows"`
	// HeaderScanCols caps how many columns are named and profiled.
	HeaderScanCols int `json:"header_scan_cols" yaml:"header_scan_cols"`
	// SampleRows is how many data rows are sampled per sheet for typing.
	SampleRows int `json:"sample_rows" yaml:"sample_rows"`
	// MinNonEmptyRatio drops columns that are populated in fewer rows than this.
	MinNonEmptyRatio float64 `json:"min_non_empty_ratio" yaml:"min_non_empty_ratio"`
	// MetricMinRatio is the population a numeric column needs to be a metric.
	MetricMinRatio float64 `json:"metric_min_ratio" yaml:"metric_min_ratio"`
	// MaxHeaderLen caps header names, in runes.
	MaxHeaderLen int `json:"max_header_len" yaml:"max_header_len"`
	// MaxSamples is how many sample values a profile keeps.
	MaxSamples int `json:"max_samples" yaml:"max_samples"`
	// MaxSampleLen truncates each kept sample, in runes.
	MaxSampleLen int `json:"max_sample_len" yaml:"max_sample_len"`
}

// DefaultThresholds returns the production scan limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HeaderScanRows:   80,
		HeaderScanCols:   400,
		SampleRows:       600,
		MinNonEmptyRatio: 0.01,
		MetricMinRatio:   0.10,
		MaxHeaderLen:     120,
		MaxSamples:       3,
		MaxSampleLen:     80,
	}
}

// WithDefaults fills zero fields from DefaultThresholds.
func (t Thresholds) WithDefaults() Thresholds {
	d := DefaultThresholds()
	if t.HeaderScanRows <= 0 {
		t.HeaderScanRows = d.HeaderScanRows
	}
	if t.HeaderScanCols <= 0 {
		t.HeaderScanCols = d.HeaderScanCols
	}
	if t.SampleRows <= 0 {
		t.SampleRows = d.SampleRows
	}
	if t.MinNonEmptyRatio <= 0 {
		t.MinNonEmptyRatio = d.MinNonEmptyRatio
	}
	if t.MetricMinRatio <= 0 {
		t.MetricMinRatio = d.MetricMinRatio
	}
	if t.MaxHeaderLen <= 0 {
		t.MaxHeaderLen = d.MaxHeaderLen
	}
	if t.MaxSamples <= 0 {
		t.MaxSamples = d.MaxSamples
	}
	if t.MaxSampleLen <= 0 {
		t.MaxSampleLen = d.MaxSampleLen
	}
	return t
}
