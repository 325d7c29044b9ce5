package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	json "github.com/goccy/go-json"
)

// signaturePayload is the canonical shape hashed into a signature. Struct
// fields are declared in key order so the encoding is sorted and stable.
type signaturePayload struct {
	EngineVersion string             `json:"engine_version"`
	Sheets        []signatureSheetV1 `json:"sheets"`
}

type signatureSheetV1 struct {
	Columns       []string `json:"columns"`
	DateColumns   []string `json:"date_columns"`
	HeaderRow     int      `json:"header_row"`
	MetricColumns []string `json:"metric_columns"`
	SheetName     string   `json:"sheet_name"`
}

// Signature fingerprints the structural shape of a workbook.
//
// Two schemas share a signature iff they agree on engine version, lower-cased
// sheet names, header rows, the full column-name sequence, and the metric and
// date column lists. Cell values and samples never contribute.
//
// Output is lowercase hex SHA-256 (64 chars).
func Signature(w Workbook) string {
	p := signaturePayload{
		EngineVersion: w.EngineVersion,
		Sheets:        make([]signatureSheetV1, 0, len(w.Sheets)),
	}
	for _, s := range w.Sheets {
		names := make([]string, len(s.Columns))
		for i, c := range s.Columns {
			names[i] = c.Name
		}
		p.Sheets = append(p.Sheets, signatureSheetV1{
			Columns:       names,
			DateColumns:   nonNil(s.DateColumns),
			HeaderRow:     s.HeaderRow,
			MetricColumns: nonNil(s.MetricColumns),
			SheetName:     strings.ToLower(s.SheetName),
		})
	}

	// Marshal of this payload cannot fail: it holds only strings, ints and slices.
	raw, _ := json.Marshal(p)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
