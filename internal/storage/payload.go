package storage

import (
	"fmt"

	json "github.com/goccy/go-json"

	"sheetetl/internal/records"
	"sheetetl/internal/schema"
)

// EncodedRow is a RowFact with its maps serialized for JSON columns.
type EncodedRow struct {
	RowFact
	MetricsJSON    string
	DimensionsJSON string
	RawJSON        string
}

// EncodeRow serializes the payload maps of r. Nil maps encode as "{}".
func EncodeRow(r RowFact) (EncodedRow, error) {
	m := r.Metrics
	if m == nil {
		m = map[string]float64{}
	}
	metrics, err := json.Marshal(m)
	if err != nil {
		return EncodedRow{}, fmt.Errorf("encode metrics row %s:%d: %w", r.SheetName, r.RowNumber, err)
	}
	dims, err := encodeMap(r.Dimensions)
	if err != nil {
		return EncodedRow{}, fmt.Errorf("encode dimensions row %s:%d: %w", r.SheetName, r.RowNumber, err)
	}
	raw, err := encodeMap(r.Raw)
	if err != nil {
		return EncodedRow{}, fmt.Errorf("encode raw row %s:%d: %w", r.SheetName, r.RowNumber, err)
	}
	return EncodedRow{RowFact: r, MetricsJSON: string(metrics), DimensionsJSON: dims, RawJSON: raw}, nil
}

func encodeMap(m records.Map) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeSchema serializes a schema snapshot.
func EncodeSchema(w schema.Workbook) (string, error) {
	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode schema: %w", err)
	}
	return string(b), nil
}

// DecodeSchema parses a stored schema snapshot.
func DecodeSchema(raw []byte) (schema.Workbook, error) {
	var w schema.Workbook
	if err := json.Unmarshal(raw, &w); err != nil {
		return schema.Workbook{}, fmt.Errorf("decode schema: %w", err)
	}
	return w, nil
}

// MetricKeys returns the keys of a stored metrics object. Malformed JSON
// yields no keys.
func MetricKeys(raw []byte) []string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
