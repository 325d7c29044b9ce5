package schema

import (
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"sheetetl/internal/probe"
	"sheetetl/internal/workbook"
)

var dateHintPattern = regexp.MustCompile(`(20\d{2})(\d{2})(\d{2})`)

// FileDateHint extracts the first YYYYMMDD run (years 2000-2099) from the
// file's base name. Impossible calendar dates yield nil.
func FileDateHint(filename string) *time.Time {
	m := dateHintPattern.FindStringSubmatch(filepath.Base(filename))
	if m == nil {
		return nil
	}
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])
	if mo < 1 || mo > 12 || d < 1 {
		return nil
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != mo {
		return nil
	}
	return &t
}

// Build infers the schema of every sheet in workbook order.
func Build(wb *workbook.Workbook, filename string, th probe.Thresholds) Workbook {
	th = th.WithDefaults()
	out := Workbook{
		EngineVersion: EngineVersion,
		Sheets:        make([]Sheet, 0, len(wb.Sheets())),
	}
	if hint := FileDateHint(filename); hint != nil {
		s := hint.Format(time.DateOnly)
		out.FileDateHint = &s
	}
	for _, sh := range wb.Sheets() {
		out.Sheets = append(out.Sheets, BuildSheet(sh, th))
	}
	return out
}

// BuildSheet runs header detection, profiling and role derivation on one
// sheet.
func BuildSheet(sh *workbook.Sheet, th probe.Thresholds) Sheet {
	th = th.WithDefaults()
	scanRows := min(th.HeaderScanRows, sh.MaxRow())
	scanCols := min(th.HeaderScanCols, sh.MaxCol())

	window := make([][]workbook.Cell, scanRows)
	for r := 1; r <= scanRows; r++ {
		row := sh.Row(r)
		if len(row) > scanCols {
			row = row[:scanCols]
		}
		window[r-1] = row
	}

	headerRow := probe.DetectHeaderRow(window)
	var headerCells []workbook.Cell
	if headerRow <= len(window) {
		headerCells = window[headerRow-1]
	}
	headers := probe.NormalizeHeaders(headerCells, scanCols, th.MaxHeaderLen)

	cols := probe.ProfileColumns(sh, headers, headerRow+1, th)
	roles := probe.ClassifyColumns(cols, th)

	return Sheet{
		SheetName:        sh.Name,
		MaxRow:           sh.MaxRow(),
		MaxCol:           sh.MaxCol(),
		HeaderRow:        headerRow,
		DataStartRow:     headerRow + 1,
		Columns:          cols,
		DateColumns:      roles.Date,
		MetricColumns:    roles.Metric,
		DimensionColumns: roles.Dimension,
	}
}
