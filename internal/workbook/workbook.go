// Package workbook decodes spreadsheet files into typed, in-memory cell grids.
//
// Supported inputs:
//   - .xlsx / .xlsm via excelize, with native numbers, booleans and dates
//     (date detection follows the cell number format)
//   - .csv via encoding/csv, one sheet named after the file, all cells text
//
// Rows and columns are 1-based in every exported accessor, matching how
// spreadsheets address cells.
package workbook

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"sheetetl/internal/apperrors"
)

// Sheet is a fully loaded worksheet grid. Rows may be ragged; missing cells
// read as Empty.
type Sheet struct {
	Name   string
	rows   [][]Cell
	maxCol int
}

// NewSheet builds a sheet from rows (row 1 first).
func NewSheet(name string, rows [][]Cell) *Sheet {
	s := &Sheet{Name: name, rows: rows}
	for _, r := range rows {
		if len(r) > s.maxCol {
			s.maxCol = len(r)
		}
	}
	return s
}

// MaxRow is the number of rows in the grid.
func (s *Sheet) MaxRow() int { return len(s.rows) }

// MaxCol is the width of the widest row.
func (s *Sheet) MaxCol() int { return s.maxCol }

// Row returns row n (1-based) or nil when n is out of range.
// The returned slice must not be modified.
func (s *Sheet) Row(n int) []Cell {
	if n < 1 || n > len(s.rows) {
		return nil
	}
	return s.rows[n-1]
}

// Cell returns the cell at (row, col), both 1-based.
func (s *Sheet) Cell(row, col int) Cell {
	r := s.Row(row)
	if col < 1 || col > len(r) {
		return Empty
	}
	return r[col-1]
}

// Workbook is an ordered set of sheets.
type Workbook struct {
	Path   string
	sheets []*Sheet
	byName map[string]*Sheet
}

// New assembles a workbook from already decoded sheets.
func New(path string, sheets ...*Sheet) *Workbook {
	wb := &Workbook{Path: path, sheets: sheets, byName: make(map[string]*Sheet, len(sheets))}
	for _, s := range sheets {
		wb.byName[s.Name] = s
	}
	return wb
}

// Sheets returns the sheets in workbook order.
func (w *Workbook) Sheets() []*Sheet { return w.sheets }

// SheetNames returns sheet names in workbook order.
func (w *Workbook) SheetNames() []string {
	out := make([]string, len(w.sheets))
	for i, s := range w.sheets {
		out[i] = s.Name
	}
	return out
}

// Sheet looks a sheet up by exact name.
func (w *Workbook) Sheet(name string) (*Sheet, bool) {
	s, ok := w.byName[name]
	return s, ok
}

// Options tunes decoding. The zero value is usable.
type Options struct {
	// Comma is the CSV field delimiter. Defaults to ','.
	Comma rune
	// LazyQuotes relaxes CSV quote handling.
	LazyQuotes bool
}

// Open decodes the file at path, choosing the reader by extension.
//
// Errors:
//   - apperrors.ErrUnsupportedFormat for unknown extensions.
//   - Decoder errors wrapped with the path.
func Open(ctx context.Context, path string, opt Options) (*Workbook, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm":
		return openXLSX(ctx, path)
	case ".csv":
		return openCSV(ctx, path, opt)
	default:
		return nil, fmt.Errorf("open %s: %w: %q", filepath.Base(path), apperrors.ErrUnsupportedFormat, ext)
	}
}
