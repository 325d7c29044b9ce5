// Package schema describes the structural shape of a workbook and computes
// its signature.
//
// A Workbook schema is immutable once built for a given file content. It is
// persisted verbatim as a template snapshot, so JSON field names are part of
// the storage contract.
package schema

import (
	"sheetetl/internal/probe"
)

// EngineVersion tags every schema and ingest file produced by this engine.
const EngineVersion = "generic-template-1.0"

// Column is one profiled column (1-based index, de-duplicated name).
type Column = probe.Column

// Sheet is the inferred layout of one worksheet.
type Sheet struct {
	SheetName        string   `json:"sheet_name"`
	MaxRow           int      `json:"max_row"`
	MaxCol           int      `json:"max_col"`
	HeaderRow        int      `json:"header_row"`
	DataStartRow     int      `json:"data_start_row"`
	Columns          []Column `json:"columns"`
	DateColumns      []string `json:"date_columns"`
	MetricColumns    []string `json:"metric_columns"`
	DimensionColumns []string `json:"dimension_columns"`
}

// MaxColumnIndex is the largest profiled column index, or 0 without columns.
func (s Sheet) MaxColumnIndex() int {
	m := 0
	for _, c := range s.Columns {
		if c.Index > m {
			m = c.Index
		}
	}
	return m
}

// Workbook is the full structural description of a file.
type Workbook struct {
	EngineVersion string  `json:"engine_version"`
	FileDateHint  *string `json:"file_date_hint"`
	Sheets        []Sheet `json:"sheets"`
}

// Sheet returns the schema sheet with the given name.
func (w Workbook) Sheet(name string) (Sheet, bool) {
	for _, s := range w.Sheets {
		if s.SheetName == name {
			return s, true
		}
	}
	return Sheet{}, false
}
