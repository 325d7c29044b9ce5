// Package datadog ships engine metrics to the Datadog metrics intake.
//
// Counters and duration samples are buffered in memory and submitted on a
// ticker (default once per minute) plus a final Flush on Close, so long
// ingests produce a time series instead of a single spike at exit.
//
// Recording calls may come from any goroutine. Flush swaps the buffers under
// the mutex and submits outside it.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"sheetetl/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Series names submitted to Datadog.
const (
	seriesIngest   = "sheetetl.ingest.total"
	seriesRows     = "sheetetl.rows.total"
	seriesBatches  = "sheetetl.batches.total"
	seriesStepTime = "sheetetl.step.duration_seconds"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>". Defaults to "sheetetl".
	JobName string

	// Tags are extra Datadog tags, e.g. "service:sheetetl".
	Tags []string

	// FlushEvery defaults to 60s when <= 0.
	FlushEvery time.Duration

	// test seams
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend calls.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags  []string
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	ingestCounts map[string]float64 // status -> count
	rowCounts    map[string]float64 // kind -> count
	batchCount   float64
	stepSamples  map[string][]float64 // stepStatusKey -> seconds
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend starts a Datadog backend with a background flush loop.
//
// The Datadog client reads DD_API_KEY and DD_SITE from the environment via
// dd.NewDefaultContext. The environment tag comes from ENV, then DD_ENV,
// otherwise env:unknown. Network errors surface from Flush, not here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "sheetetl"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:          submitter,
		ctx:          dd.NewDefaultContext(parent),
		flushEvery:   flushEvery,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		baseTags:     baseTags,
		now:          nowFn,
		newTicker:    newTicker,
		ingestCounts: make(map[string]float64),
		rowCounts:    make(map[string]float64),
		stepSamples:  make(map[string][]float64),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and submits whatever is still buffered.
// Calling Close more than once only flushes again.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown names are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.IngestTotal:
		b.ingestCounts[labelOr(labels, "status", "unknown")] += delta
	case metrics.RowsTotal:
		kind := labels["kind"]
		if kind == "" {
			return
		}
		b.rowCounts[kind] += delta
	case metrics.BatchesTotal:
		b.batchCount += delta
	}
}

// ObserveHistogram implements metrics.Backend. Only step durations are kept.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := stepStatusKey(labels["step"], labelOr(labels, "status", "unknown"))
	b.stepSamples[k] = append(b.stepSamples[k], value)
}

type snapshot struct {
	ingestCounts map[string]float64
	rowCounts    map[string]float64
	batchCount   float64
	stepSamples  map[string][]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.ingestCounts) == 0 &&
		len(s.rowCounts) == 0 &&
		s.batchCount == 0 &&
		len(s.stepSamples) == 0
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		ingestCounts: b.ingestCounts,
		rowCounts:    b.rowCounts,
		batchCount:   b.batchCount,
		stepSamples:  b.stepSamples,
	}
	b.ingestCounts = make(map[string]float64)
	b.rowCounts = make(map[string]float64)
	b.batchCount = 0
	b.stepSamples = make(map[string][]float64)
	return s
}

// Flush submits buffered metrics and resets the buffers.
//
// Buffers are reset even when submission fails; there is no redelivery.
// Returns nil without a network call when nothing was recorded.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure; all series share nowUnix.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.ingestCounts)+len(s.rowCounts)+1+6*len(s.stepSamples))

	for _, status := range sortedKeys(s.ingestCounts) {
		series = append(series, countSeries(seriesIngest, s.ingestCounts[status], withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for _, kind := range sortedKeys(s.rowCounts) {
		series = append(series, countSeries(seriesRows, s.rowCounts[kind], withTags(b.baseTags, "kind:"+kind), nowUnix))
	}
	if s.batchCount != 0 {
		series = append(series, countSeries(seriesBatches, s.batchCount, b.baseTags, nowUnix))
	}
	for _, k := range sortedKeys(s.stepSamples) {
		step, status := splitStepStatusKey(k)
		addPercentiles(&series, seriesStepTime, withTags(b.baseTags, "step:"+step, "status:"+status), s.stepSamples[k], nowUnix)
	}
	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges for samples.
// samples is not reordered.
func addPercentiles(series *[]datadogV2.MetricSeries, prefix string, tags []string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	for _, q := range []struct {
		suffix string
		p      float64
	}{{".p50", 0.50}, {".p90", 0.90}, {".p95", 0.95}, {".p99", 0.99}} {
		*series = append(*series, gaugeSeries(prefix+q.suffix, percentileNearestRank(cp, q.p), tags, nowUnix))
	}
	*series = append(*series, gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix))
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return pointSeries(metric, datadogV2.METRICINTAKETYPE_COUNT, value, tags, nowUnix)
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return pointSeries(metric, datadogV2.METRICINTAKETYPE_GAUGE, value, tags, nowUnix)
}

func pointSeries(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func labelOr(labels metrics.Labels, key, fallback string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return fallback
}

func stepStatusKey(step, status string) string {
	return step + "\x00" + status
}

func splitStepStatusKey(k string) (step, status string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

// percentileNearestRank expects s sorted ascending.
func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:sheetetl".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
