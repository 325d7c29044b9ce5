package storage

import (
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"sheetetl/internal/probe"
)

// TrendAccumulator sums one metric per event date over stored rows.
//
// Rules:
//   - Only rows whose metrics object carries the metric key are counted.
//   - Numeric values add as-is; strings go through the locale-tolerant
//     parse; anything unparseable (or null, or malformed JSON) adds zero.
//   - Rows outside [Start, End] are ignored.
//
// Backends filter by template and sheet in SQL and feed the remaining rows
// through Add; the aggregation itself is shared so every backend answers
// identically.
type TrendAccumulator struct {
	q      TrendQuery
	byDate map[time.Time]*TrendPoint
}

// NewTrendAccumulator prepares an accumulator for q.
func NewTrendAccumulator(q TrendQuery) *TrendAccumulator {
	return &TrendAccumulator{q: q, byDate: make(map[time.Time]*TrendPoint)}
}

// Add folds one stored row into the aggregate.
func (a *TrendAccumulator) Add(eventDate time.Time, metricsJSON []byte) {
	d := dateOnly(eventDate)
	if a.q.Start != nil && d.Before(dateOnly(*a.q.Start)) {
		return
	}
	if a.q.End != nil && d.After(dateOnly(*a.q.End)) {
		return
	}

	var m map[string]any
	if err := json.Unmarshal(metricsJSON, &m); err != nil {
		return
	}
	v, ok := m[a.q.Metric]
	if !ok {
		return
	}

	p := a.byDate[d]
	if p == nil {
		p = &TrendPoint{Date: d}
		a.byDate[d] = p
	}
	p.Value += metricValue(v)
	p.RowsIncluded++
}

// Points returns the aggregate ordered by date.
func (a *TrendAccumulator) Points() []TrendPoint {
	out := make([]TrendPoint, 0, len(a.byDate))
	for _, p := range a.byDate {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func metricValue(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		if f, ok := probe.ParseNumber(t); ok {
			return f
		}
	}
	return 0
}
