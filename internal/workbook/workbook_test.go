package workbook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetetl/internal/apperrors"
	"sheetetl/internal/workbook/workbooktest"
)

func TestOpen_XLSXDecodesNativeTypes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := workbooktest.WriteXLSX(t, dir, "sales.xlsx",
		workbooktest.Sheet{Name: "Sales", Rows: [][]any{
			{"Data", "Region", "Revenue", "Flag"},
			{time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "North", 1000, true},
			{time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), nil, 1100.5, false},
		}},
		workbooktest.Sheet{Name: "Inventory", Rows: [][]any{{"SKU"}, {"A1"}}},
	)

	wb, err := Open(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sales", "Inventory"}, wb.SheetNames())

	sales, ok := wb.Sheet("Sales")
	require.True(t, ok)
	assert.Equal(t, 3, sales.MaxRow())
	assert.Equal(t, 4, sales.MaxCol())

	assert.Equal(t, Text("Data"), sales.Cell(1, 1))

	d := sales.Cell(2, 1)
	require.Equal(t, KindDate, d.Kind)
	assert.Equal(t, "2025-01-01", d.Time.Format("2006-01-02"))

	assert.Equal(t, Number(1000), sales.Cell(2, 3))
	assert.Equal(t, Number(1100.5), sales.Cell(3, 3))
	assert.Equal(t, KindBool, sales.Cell(2, 4).Kind)
	assert.True(t, sales.Cell(3, 2).IsBlank())
	assert.True(t, sales.Cell(99, 99).IsBlank())
}

func TestOpen_CSVSingleSheet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "export_20250103.csv")
	require.NoError(t, os.WriteFile(path, []byte("\uFEFFDate;Amount\n03/01/2025;1,5\n;\n"), 0o644))

	wb, err := Open(context.Background(), path, Options{Comma: ';'})
	require.NoError(t, err)
	require.Equal(t, []string{"export_20250103"}, wb.SheetNames())

	sh := wb.Sheets()[0]
	assert.Equal(t, 3, sh.MaxRow())
	assert.Equal(t, Text("Date"), sh.Cell(1, 1))
	assert.Equal(t, Text("1,5"), sh.Cell(2, 2))
	assert.True(t, sh.Cell(3, 1).IsBlank())
}

func TestOpen_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "report.pdf", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnsupportedFormat))
}

func TestCellString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Cell
		want string
	}{
		{"integral number", Number(1000), "1000"},
		{"fraction", Number(12.25), "12.25"},
		{"date", Date(time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)), "2025-01-03 00:00:00"},
		{"bool", Bool(true), "True"},
		{"empty", Empty, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.in.String())
		})
	}
}

func TestIsDateFormatCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want bool
	}{
		{"yyyy-mm-dd", true},
		{"dd/mm/yy;@", true},
		{"[$-409]mmm d, yyyy", true},
		{"hh:mm:ss", false},
		{"#,##0.00", false},
		{`0.0 "days"`, false},
		{`[Red]0.00`, false},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, isDateFormatCode(tc.code))
		})
	}
}

func TestIsBuiltInDateFormat(t *testing.T) {
	t.Parallel()

	for _, id := range []int{14, 15, 16, 17, 22, 27, 36, 50, 58} {
		assert.True(t, isBuiltInDateFormat(id), "id=%d", id)
	}
	for _, id := range []int{0, 1, 2, 18, 21, 45, 47, 49} {
		assert.False(t, isBuiltInDateFormat(id), "id=%d", id)
	}
}
