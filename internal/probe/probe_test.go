package probe

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"sheetetl/internal/workbook"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func txt(ss ...string) []workbook.Cell {
	out := make([]workbook.Cell, len(ss))
	for i, s := range ss {
		if s != "" {
			out[i] = workbook.Text(s)
		}
	}
	return out
}

// salesSheet is the canonical four-column fixture: a date column headed in
// Italian ("Data"), a region dimension and two numeric metrics.
func salesSheet() *workbook.Sheet {
	row := func(d time.Time, region string, rev, cost float64) []workbook.Cell {
		return []workbook.Cell{workbook.Date(d), workbook.Text(region), workbook.Number(rev), workbook.Number(cost)}
	}
	return workbook.NewSheet("Sales", [][]workbook.Cell{
		txt("Data", "Region", "Revenue", "Cost"),
		row(day(2025, 1, 1), "North", 1000, 600),
		row(day(2025, 1, 2), "North", 1100, 650),
		row(day(2025, 1, 3), "South", 900, 550),
	})
}

//
// DetectHeaderRow
//

// TestDetectHeaderRow verifies scoring, eligibility and tie-breaking.
//
// A title row above the header has too few cells to qualify; numeric data
// rows lose against the alphabetic header; equal scores keep the first row.
func TestDetectHeaderRow(t *testing.T) {
	t.Parallel()

	nums := func(vals ...float64) []workbook.Cell {
		out := make([]workbook.Cell, len(vals))
		for i, v := range vals {
			out[i] = workbook.Number(v)
		}
		return out
	}

	tests := []struct {
		name string
		rows [][]workbook.Cell
		want int
	}{
		{
			name: "title row skipped",
			rows: [][]workbook.Cell{
				txt("Monthly report"),
				txt("", ""),
				txt("Date", "Region", "Revenue"),
				nums(1, 2, 3),
			},
			want: 3,
		},
		{
			name: "numeric rows lose to labels",
			rows: [][]workbook.Cell{
				nums(1, 2, 3, 4),
				txt("a", "b", "c"),
			},
			want: 2,
		},
		{
			name: "ties keep first",
			rows: [][]workbook.Cell{
				txt("a", "b", "c"),
				txt("d", "e", "f"),
			},
			want: 1,
		},
		{
			name: "nothing eligible defaults to 1",
			rows: [][]workbook.Cell{
				txt("x", "y"),
				nums(1, 2),
			},
			want: 1,
		},
		{
			name: "numbers with letters count as text-like",
			rows: [][]workbook.Cell{
				nums(10, 20, 30),
				{workbook.Bool(true), workbook.Number(1), workbook.Number(2)},
			},
			want: 2,
		},
		{
			name: "numeric and date text is not text-like",
			rows: [][]workbook.Cell{
				txt("Data", "Region", "Revenue"),
				txt("2025-01-01", "North", "1000", "600"),
				txt("02/01", "South", "1,5", "600"),
			},
			want: 1,
		},
		{
			name: "wide untyped data row loses to labels",
			rows: [][]workbook.Cell{
				txt("a", "b", "c"),
				txt("1", "2", "3", "4", "5"),
			},
			want: 1,
		},
		{
			name: "empty input",
			rows: nil,
			want: 1,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DetectHeaderRow(tt.rows); got != tt.want {
				t.Fatalf("DetectHeaderRow() = %d, want %d", got, tt.want)
			}
		})
	}
}

//
// NormalizeHeaders
//

// TestNormalizeHeaders verifies cleaning, fallbacks and de-duplication.
func TestNormalizeHeaders(t *testing.T) {
	t.Parallel()

	header := []workbook.Cell{
		workbook.Text("  Net\nRevenue  "),
		workbook.Empty,
		workbook.Text("Region"),
		workbook.Text("Region"),
		workbook.Text("   "),
		workbook.Number(2025),
		workbook.Text("Region"),
	}

	got := NormalizeHeaders(header, 8, 120)
	want := []string{"Net Revenue", "col_2", "Region", "Region__2", "col_5", "2025", "Region__3", "col_8"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeHeaders() = %#v, want %#v", got, want)
	}
}

// TestCleanHeaderText_Truncates verifies the rune cap keeps UTF-8 intact.
func TestCleanHeaderText_Truncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("è", 130)
	got := CleanHeaderText(workbook.Text(long), 1, 120)
	if n := len([]rune(got)); n != 120 {
		t.Fatalf("rune length = %d, want 120", n)
	}
}

//
// InferValueType
//

// TestInferValueType covers native types and every string rule.
func TestInferValueType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   workbook.Cell
		want ValueType
	}{
		{"native date", workbook.Date(day(2025, 1, 1)), TypeDate},
		{"native number", workbook.Number(12), TypeNumeric},
		{"bool", workbook.Bool(false), TypeNumeric},
		{"comma decimal", workbook.Text("1 234,5"), TypeNumeric},
		{"signed exponent", workbook.Text("-1.5e3"), TypeNumeric},
		{"day month", workbook.Text("03/01"), TypeDate},
		{"day month year", workbook.Text("3-1-25"), TypeDate},
		{"iso date", workbook.Text("2025-01-03"), TypeDate},
		{"iso datetime", workbook.Text("2025-01-03T10:30:00"), TypeDate},
		{"iso datetime space", workbook.Text("2025-01-03 10:30"), TypeDate},
		{"plain text", workbook.Text("North"), TypeText},
		{"thousands separators", workbook.Text("1.000,50"), TypeText},
		{"hex", workbook.Text("0x1F"), TypeText},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := InferValueType(tt.in); got != tt.want {
				t.Fatalf("InferValueType(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestParseNumber verifies locale-tolerant float parsing.
func TestParseNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"1000", 1000, true},
		{" 1 000,25 ", 1000.25, true},
		{"1_000", 1000, true},
		{"_1", 0, false},
		{"", 0, false},
		{"abc", 0, false},
		{"12,5,1", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Fatalf("ParseNumber(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

// TestParseDate verifies ISO-first parsing and the d/m/y fallback.
func TestParseDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   time.Time
		wantOK bool
	}{
		{"2025-01-03", day(2025, 1, 3), true},
		{"2025-01-03T23:59:59+02:00", day(2025, 1, 3), true},
		{"20250103", day(2025, 1, 3), true},
		{"03/01/2025", day(2025, 1, 3), true},
		{"3-1-25", day(2025, 1, 3), true},
		{"31/02/2025", time.Time{}, false},
		{"03/01", time.Time{}, false},
		{"2025-13-01", time.Time{}, false},
		{"North", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseDate(tt.in)
		if ok != tt.wantOK || !got.Equal(tt.want) {
			t.Fatalf("ParseDate(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

// TestHeaderLooksDate verifies case-insensitive token matching.
func TestHeaderLooksDate(t *testing.T) {
	t.Parallel()

	for _, h := range []string{"Date", "DATA EMISSIONE", "Weekday", "Month", "FiscalYear", "Period end"} {
		if !HeaderLooksDate(h) {
			t.Fatalf("HeaderLooksDate(%q) = false, want true", h)
		}
	}
	for _, h := range []string{"Region", "Revenue", "SKU"} {
		if HeaderLooksDate(h) {
			t.Fatalf("HeaderLooksDate(%q) = true, want false", h)
		}
	}
}

//
// ProfileColumns / ClassifyColumns
//

// TestProfileColumns_Sales verifies types, ratios, samples and roles on the
// canonical sales fixture.
func TestProfileColumns_Sales(t *testing.T) {
	t.Parallel()

	sh := salesSheet()
	headers := NormalizeHeaders(sh.Row(1), sh.MaxCol(), 120)
	cols := ProfileColumns(sh, headers, 2, DefaultThresholds())

	if len(cols) != 4 {
		t.Fatalf("len(cols) = %d, want 4", len(cols))
	}
	wantTypes := []ValueType{TypeDate, TypeText, TypeNumeric, TypeNumeric}
	for i, c := range cols {
		if c.Index != i+1 {
			t.Fatalf("cols[%d].Index = %d, want %d", i, c.Index, i+1)
		}
		if c.InferredType != wantTypes[i] {
			t.Fatalf("cols[%d] (%s) type = %q, want %q", i, c.Name, c.InferredType, wantTypes[i])
		}
		if c.NonEmptyRatio != 1 {
			t.Fatalf("cols[%d] ratio = %v, want 1", i, c.NonEmptyRatio)
		}
		if len(c.Samples) != 3 {
			t.Fatalf("cols[%d] samples = %v, want 3", i, c.Samples)
		}
	}
	if cols[2].Samples[0] != "1000" {
		t.Fatalf("Revenue sample = %q, want %q", cols[2].Samples[0], "1000")
	}

	roles := ClassifyColumns(cols, DefaultThresholds())
	if !reflect.DeepEqual(roles.Date, []string{"Data"}) {
		t.Fatalf("Date = %v", roles.Date)
	}
	if !reflect.DeepEqual(roles.Metric, []string{"Revenue", "Cost"}) {
		t.Fatalf("Metric = %v", roles.Metric)
	}
	if !reflect.DeepEqual(roles.Dimension, []string{"Region"}) {
		t.Fatalf("Dimension = %v", roles.Dimension)
	}
}

// TestProfileColumns_SparseAndMixed verifies ratio cutoffs and the date
// header override.
//
// "Revenue" is mostly numeric with one stray label, so it stays numeric.
// "Date" holds mostly free text but its header forces it into date columns.
// "Notes" is populated in 1 of 200 rows (0.005) and is dropped. "Bonus" is
// numeric but populated in 10 of 200 rows (0.05), so it is a dimension, not a
// metric.
func TestProfileColumns_SparseAndMixed(t *testing.T) {
	t.Parallel()

	rows := [][]workbook.Cell{txt("Revenue", "Date", "Notes", "Bonus")}
	for i := 0; i < 200; i++ {
		r := make([]workbook.Cell, 4)
		r[0] = workbook.Number(float64(i))
		if i == 7 {
			r[0] = workbook.Text("n/a")
		}
		r[1] = workbook.Text("pending")
		if i%4 == 0 {
			r[1] = workbook.Text("2025-01-01")
		}
		if i == 0 {
			r[2] = workbook.Text("first")
		}
		if i%20 == 0 {
			r[3] = workbook.Number(5)
		}
		rows = append(rows, r)
	}
	sh := workbook.NewSheet("Mixed", rows)

	headers := NormalizeHeaders(sh.Row(1), sh.MaxCol(), 120)
	cols := ProfileColumns(sh, headers, 2, DefaultThresholds())

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	if !reflect.DeepEqual(names, []string{"Revenue", "Date", "Bonus"}) {
		t.Fatalf("profiled = %v, want Notes dropped", names)
	}
	if cols[0].InferredType != TypeNumeric {
		t.Fatalf("Revenue type = %q", cols[0].InferredType)
	}
	if cols[1].InferredType != TypeText {
		t.Fatalf("Date type = %q, want text (values are mostly free text)", cols[1].InferredType)
	}
	if cols[2].NonEmptyRatio != 0.05 {
		t.Fatalf("Bonus ratio = %v, want 0.05", cols[2].NonEmptyRatio)
	}

	roles := ClassifyColumns(cols, DefaultThresholds())
	if !reflect.DeepEqual(roles.Metric, []string{"Revenue"}) {
		t.Fatalf("Metric = %v", roles.Metric)
	}
	if !reflect.DeepEqual(roles.Date, []string{"Date"}) {
		t.Fatalf("Date = %v", roles.Date)
	}
	if !reflect.DeepEqual(roles.Dimension, []string{"Bonus"}) {
		t.Fatalf("Dimension = %v", roles.Dimension)
	}
}

// TestProfileColumns_SampleCap verifies only SampleRows rows are read.
func TestProfileColumns_SampleCap(t *testing.T) {
	t.Parallel()

	rows := [][]workbook.Cell{txt("A", "B", "C")}
	for i := 0; i < 10; i++ {
		rows = append(rows, []workbook.Cell{workbook.Number(1), workbook.Empty, workbook.Empty})
	}
	rows = append(rows, []workbook.Cell{workbook.Number(1), workbook.Text("late"), workbook.Empty})
	sh := workbook.NewSheet("Capped", rows)

	th := DefaultThresholds()
	th.SampleRows = 10
	cols := ProfileColumns(sh, NormalizeHeaders(sh.Row(1), 3, 120), 2, th)
	if len(cols) != 1 || cols[0].Name != "A" {
		t.Fatalf("cols = %+v, want only A (B is beyond the sample window)", cols)
	}
}

// TestProfileColumns_HeaderOnly verifies a sheet without data rows yields no
// columns.
func TestProfileColumns_HeaderOnly(t *testing.T) {
	t.Parallel()

	sh := workbook.NewSheet("Empty", [][]workbook.Cell{txt("A", "B", "C")})
	if cols := ProfileColumns(sh, NormalizeHeaders(sh.Row(1), 3, 120), 2, DefaultThresholds()); len(cols) != 0 {
		t.Fatalf("cols = %+v, want none", cols)
	}
}
