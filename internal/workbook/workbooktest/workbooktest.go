// Package workbooktest writes spreadsheet fixtures for tests.
package workbooktest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// Sheet is a fixture sheet: rows are written starting at A1. Values may be
// string, int, float64, bool, time.Time or nil (left blank).
type Sheet struct {
	Name string
	Rows [][]any
}

// WriteXLSX writes sheets into dir/name and returns the full path.
// The default "Sheet1" is renamed to the first fixture sheet.
func WriteXLSX(tb testing.TB, dir, name string, sheets ...Sheet) string {
	tb.Helper()
	require.NotEmpty(tb, sheets, "at least one sheet")

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, sh := range sheets {
		if i == 0 {
			require.NoError(tb, f.SetSheetName("Sheet1", sh.Name))
		} else {
			_, err := f.NewSheet(sh.Name)
			require.NoError(tb, err)
		}
		for r, row := range sh.Rows {
			for c, v := range row {
				if v == nil {
					continue
				}
				axis, err := excelize.CoordinatesToCellName(c+1, r+1)
				require.NoError(tb, err)
				require.NoError(tb, f.SetCellValue(sh.Name, axis, v))
			}
		}
	}

	path := filepath.Join(dir, name)
	require.NoError(tb, f.SaveAs(path))
	return path
}
