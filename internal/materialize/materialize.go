// Package materialize turns workbook rows into row facts under a stored
// template schema.
//
// The template's schema is authoritative: cells are read at the column
// indexes it recorded, even when the current file has a different shape.
// Mismatched columns simply produce empty values.
package materialize

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"sheetetl/internal/probe"
	"sheetetl/internal/records"
	"sheetetl/internal/schema"
	"sheetetl/internal/storage"
	"sheetetl/internal/workbook"
)

// DefaultBatchSize is the number of rows buffered before a flush.
const DefaultBatchSize = 5000

// Sink receives batches of rows and reports how many were stored.
type Sink interface {
	InsertRows(ctx context.Context, rows []storage.RowFact) (int, error)
}

// Job describes one materialization run.
type Job struct {
	FileID     int64
	TemplateID int64
	Schema     schema.Workbook
	// DateHint is the fallback event date, usually derived from the filename.
	DateHint  *time.Time
	BatchSize int
}

// Result summarizes a run.
type Result struct {
	Inserted int
	Produced int
	Batches  int
	Warnings []string
}

// Run materializes every template sheet found in wb and flushes rows to sink
// in batches. Batching never changes which rows are produced.
func Run(ctx context.Context, wb *workbook.Workbook, job Job, sink Sink) (Result, error) {
	size := job.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	var res Result
	batch := make([]storage.RowFact, 0, min(size, 1024))

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := sink.InsertRows(ctx, batch)
		if err != nil {
			return fmt.Errorf("insert batch %d: %w", res.Batches+1, err)
		}
		res.Inserted += n
		res.Batches++
		batch = batch[:0]
		return nil
	}

	for _, ss := range job.Schema.Sheets {
		sh, ok := wb.Sheet(ss.SheetName)
		if !ok {
			res.Warnings = append(res.Warnings, "sheet missing in file: "+ss.SheetName)
			continue
		}
		if len(ss.Columns) == 0 {
			continue
		}

		m := newSheetMapper(ss, job.DateHint)
		for r := ss.DataStartRow; r <= sh.MaxRow(); r++ {
			row, ok := m.mapRow(sh.Row(r), r)
			if !ok {
				continue
			}
			row.FileID = job.FileID
			row.TemplateID = job.TemplateID
			batch = append(batch, row)
			res.Produced++

			if len(batch) >= size {
				if err := flush(); err != nil {
					return res, err
				}
			}
		}
	}

	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}

// sheetMapper holds the per-sheet column roles.
type sheetMapper struct {
	sheet      schema.Sheet
	dateCols   []schema.Column
	metrics    []string
	dimensions []string
	hint       *time.Time
}

func newSheetMapper(ss schema.Sheet, hint *time.Time) *sheetMapper {
	m := &sheetMapper{sheet: ss, metrics: ss.MetricColumns, dimensions: ss.DimensionColumns, hint: hint}

	isDate := make(map[string]bool, len(ss.DateColumns))
	for _, n := range ss.DateColumns {
		isDate[n] = true
	}
	for _, c := range ss.Columns {
		if isDate[c.Name] {
			m.dateCols = append(m.dateCols, c)
		}
	}
	// Several date columns: the leftmost parseable one wins.
	sort.SliceStable(m.dateCols, func(i, j int) bool { return m.dateCols[i].Index < m.dateCols[j].Index })
	return m
}

// mapRow builds the fact for one sheet row. ok is false when the row is
// blank or carries neither metrics nor dimensions.
func (m *sheetMapper) mapRow(cells []workbook.Cell, rowNumber int) (storage.RowFact, bool) {
	raw := make(records.Map, len(m.sheet.Columns))
	hasData := false
	for _, c := range m.sheet.Columns {
		var cell workbook.Cell
		if i := c.Index - 1; i >= 0 && i < len(cells) {
			cell = cells[i]
		}
		v := NormalizeCell(cell)
		raw[c.Name] = v
		if !v.IsNull() {
			hasData = true
		}
	}
	if !hasData {
		return storage.RowFact{}, false
	}

	metrics := make(map[string]float64, len(m.metrics))
	for _, name := range m.metrics {
		if f, ok := MetricValue(raw[name]); ok {
			metrics[name] = f
		}
	}
	dims := make(records.Map, len(m.dimensions))
	for _, name := range m.dimensions {
		if v, ok := raw[name]; ok && !v.IsNull() {
			dims[name] = v
		}
	}
	if len(metrics) == 0 && len(dims) == 0 {
		return storage.RowFact{}, false
	}

	return storage.RowFact{
		SheetName:  m.sheet.SheetName,
		RowNumber:  rowNumber,
		EventDate:  m.eventDate(raw),
		Metrics:    metrics,
		Dimensions: dims,
		Raw:        raw,
	}, true
}

func (m *sheetMapper) eventDate(raw records.Map) *time.Time {
	for _, c := range m.dateCols {
		v := raw[c.Name]
		if v.IsNull() {
			continue
		}
		if d, ok := probe.ParseDate(strings.TrimSpace(v.Text())); ok {
			return &d
		}
	}
	return m.hint
}

// NormalizeCell maps a decoded cell to its stored scalar:
//   - dates become ISO calendar-date strings
//   - numbers stay numbers (booleans as 1/0)
//   - text is trimmed; empty text is null
func NormalizeCell(c workbook.Cell) records.Value {
	switch c.Kind {
	case workbook.KindEmpty:
		return records.Null
	case workbook.KindDate:
		return records.String(c.Time.Format(time.DateOnly))
	case workbook.KindNumber:
		return records.Number(c.Num)
	case workbook.KindBool:
		if c.Num != 0 {
			return records.Number(1)
		}
		return records.Number(0)
	default:
		s := strings.TrimSpace(c.String())
		if s == "" {
			return records.Null
		}
		return records.String(s)
	}
}

// MetricValue converts a normalized scalar to a finite float. Strings go
// through the locale-tolerant parse.
func MetricValue(v records.Value) (float64, bool) {
	var f float64
	switch v.Kind {
	case records.KindNumber:
		f = v.Num
	case records.KindString:
		var ok bool
		if f, ok = probe.ParseNumber(v.Str); !ok {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
