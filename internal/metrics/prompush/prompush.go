// Package prompush pushes engine metrics to a Prometheus Pushgateway.
//
// Collectors live on a private registry so nothing leaks into the default
// registry. Flush pushes the whole registry under the configured job; a
// command typically calls it once before exiting.
package prompush

import (
	"errors"
	"strings"

	"sheetetl/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend implements metrics.Backend on top of client_golang.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	ingest  *prometheus.CounterVec
	rows    *prometheus.CounterVec
	batches prometheus.Counter
	steps   *prometheus.HistogramVec
}

// NewBackend registers the engine collectors and targets gatewayURL.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, errors.New("prompush: empty pushgateway url")
	}
	if job == "" {
		job = "sheetetl"
	}

	b := &Backend{
		reg: prometheus.NewRegistry(),
		ingest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.IngestTotal,
			Help: "Workbook ingests by outcome.",
		}, []string{"status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Row facts by kind.",
		}, []string{"kind"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Row batches written to storage.",
		}),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Ingest step durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"step", "status"}),
	}
	for _, c := range []prometheus.Collector{b.ingest, b.rows, b.batches, b.steps} {
		if err := b.reg.Register(c); err != nil {
			return nil, err
		}
	}
	b.pusher = push.New(gatewayURL, job).Gatherer(b.reg)
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.IngestTotal:
		b.ingest.WithLabelValues(label(labels, "status")).Add(delta)
	case metrics.RowsTotal:
		b.rows.WithLabelValues(label(labels, "kind")).Add(delta)
	case metrics.BatchesTotal:
		b.batches.Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}
	b.steps.WithLabelValues(label(labels, "step"), label(labels, "status")).Observe(value)
}

// Flush pushes the registry, replacing the job's previous group.
func (b *Backend) Flush() error {
	return b.pusher.Push()
}

// Registry exposes the private registry for inspection.
func (b *Backend) Registry() *prometheus.Registry { return b.reg }

func label(labels metrics.Labels, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}

var _ metrics.Backend = (*Backend)(nil)
