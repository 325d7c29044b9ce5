package workbook

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// openXLSX loads every sheet of an OOXML workbook into memory.
//
// Values are read raw (unformatted) and typed per cell:
//   - shared/inline strings, formula strings and errors become text
//   - booleans become Bool
//   - ISO "d" cells become Date
//   - numbers become Date when their number format is a date format,
//     otherwise Number
func openXLSX(ctx context.Context, path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx %s: %w", filepath.Base(path), err)
	}
	defer func() {
		_ = f.Close()
	}()

	dec := &xlsxDecoder{f: f, dateStyles: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		dec.date1904 = *props.Date1904
	}

	names := f.GetSheetList()
	sheets := make([]*Sheet, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		grid := make([][]Cell, len(rows))
		for r, raw := range rows {
			cells := make([]Cell, len(raw))
			for c, v := range raw {
				if v == "" {
					continue
				}
				cells[c] = dec.decode(name, r+1, c+1, v)
			}
			grid[r] = cells
		}
		sheets = append(sheets, NewSheet(name, grid))
	}
	return New(path, sheets...), nil
}

type xlsxDecoder struct {
	f          *excelize.File
	date1904   bool
	dateStyles map[int]bool
}

func (d *xlsxDecoder) decode(sheet string, row, col int, raw string) Cell {
	axis, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return Text(raw)
	}
	ct, err := d.f.GetCellType(sheet, axis)
	if err != nil {
		return Text(raw)
	}

	switch ct {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString,
		excelize.CellTypeFormula, excelize.CellTypeError:
		return Text(raw)
	case excelize.CellTypeBool:
		return Bool(raw == "1" || strings.EqualFold(raw, "true"))
	case excelize.CellTypeDate:
		if t, ok := parseISOCell(raw); ok {
			return Date(t)
		}
		return Text(raw)
	}

	num, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Text(raw)
	}
	if d.isDateStyled(sheet, axis) {
		if t, err := excelize.ExcelDateToTime(num, d.date1904); err == nil {
			return Date(t)
		}
	}
	return Number(num)
}

func (d *xlsxDecoder) isDateStyled(sheet, axis string) bool {
	idx, err := d.f.GetCellStyle(sheet, axis)
	if err != nil || idx == 0 {
		return false
	}
	if v, ok := d.dateStyles[idx]; ok {
		return v
	}
	isDate := false
	if st, err := d.f.GetStyle(idx); err == nil && st != nil {
		if st.CustomNumFmt != nil {
			isDate = isDateFormatCode(*st.CustomNumFmt)
		} else {
			isDate = isBuiltInDateFormat(st.NumFmt)
		}
	}
	d.dateStyles[idx] = isDate
	return isDate
}

// isBuiltInDateFormat reports whether a built-in number format id renders a
// calendar date. Pure time formats (18-21, 45-47) are not dates.
func isBuiltInDateFormat(id int) bool {
	switch {
	case id >= 14 && id <= 17, id == 22:
		return true
	case id >= 27 && id <= 36, id >= 50 && id <= 58:
		return true
	}
	return false
}

// isDateFormatCode inspects a custom format code for day or year tokens,
// ignoring quoted literals, escaped characters and bracketed sections.
func isDateFormatCode(code string) bool {
	var inQuote, inBracket, escaped bool
	for _, r := range code {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		case r == 'd', r == 'D', r == 'y', r == 'Y':
			return true
		}
	}
	return false
}

var isoCellLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseISOCell(s string) (time.Time, bool) {
	for _, layout := range isoCellLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
