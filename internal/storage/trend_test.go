package storage

import (
	"testing"
	"time"
)

func d(y int, m time.Month, day int) time.Time { return time.Date(y, m, day, 0, 0, 0, 0, time.UTC) }

func TestTrendAccumulator_SumsPerDate(t *testing.T) {
	t.Parallel()

	acc := NewTrendAccumulator(TrendQuery{TemplateID: 1, Metric: "Revenue"})
	acc.Add(d(2025, 1, 2), []byte(`{"Revenue":1100,"Cost":650}`))
	acc.Add(d(2025, 1, 1), []byte(`{"Revenue":1000,"Cost":600}`))
	acc.Add(d(2025, 1, 3), []byte(`{"Revenue":900,"Cost":550}`))
	acc.Add(d(2025, 1, 1), []byte(`{"Stock":50}`))

	got := acc.Points()
	want := []TrendPoint{
		{Date: d(2025, 1, 1), Value: 1000, RowsIncluded: 1},
		{Date: d(2025, 1, 2), Value: 1100, RowsIncluded: 1},
		{Date: d(2025, 1, 3), Value: 900, RowsIncluded: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("points = %+v", got)
	}
	for i := range want {
		if !got[i].Date.Equal(want[i].Date) || got[i].Value != want[i].Value || got[i].RowsIncluded != want[i].RowsIncluded {
			t.Fatalf("point[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestTrendAccumulator_TolerantValuesAndRange(t *testing.T) {
	t.Parallel()

	start, end := d(2025, 1, 2), d(2025, 1, 2)
	acc := NewTrendAccumulator(TrendQuery{Metric: "m", Start: &start, End: &end})
	acc.Add(d(2025, 1, 1), []byte(`{"m":5}`))
	acc.Add(time.Date(2025, 1, 2, 18, 30, 0, 0, time.UTC), []byte(`{"m":"2,5"}`))
	acc.Add(d(2025, 1, 2), []byte(`{"m":"n/a"}`))
	acc.Add(d(2025, 1, 2), []byte(`{"m":null}`))
	acc.Add(d(2025, 1, 2), []byte(`not json`))
	acc.Add(d(2025, 1, 2), []byte(`{"other":7}`))
	acc.Add(d(2025, 1, 3), []byte(`{"m":5}`))

	got := acc.Points()
	if len(got) != 1 {
		t.Fatalf("points = %+v, want a single in-range date", got)
	}
	if got[0].Value != 2.5 || got[0].RowsIncluded != 3 {
		t.Fatalf("point = %+v, want value 2.5 over the 3 rows carrying the key", got[0])
	}
}

func TestParseTime_DriverShapes(t *testing.T) {
	t.Parallel()

	want := d(2025, 1, 3)
	for _, in := range []any{want, "2025-01-03", []byte("2025-01-03T00:00:00Z"), "2025-01-03 00:00:00"} {
		got, err := ParseTime(in)
		if err != nil || !got.Equal(want) {
			t.Fatalf("ParseTime(%v) = %v, %v", in, got, err)
		}
	}
	for _, in := range []any{nil, "", "yesterday", 42} {
		if _, err := ParseTime(in); err == nil {
			t.Fatalf("ParseTime(%v) expected error", in)
		}
	}
}
