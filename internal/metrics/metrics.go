// Package metrics is the process-wide metrics facade.
//
// Core code records through the package functions; the binary picks a
// Backend once at startup with SetBackend. The default backend discards
// everything.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the engine.
const (
	IngestTotal         = "sheetetl_ingest_total"
	RowsTotal           = "sheetetl_rows_total"
	BatchesTotal        = "sheetetl_batches_total"
	StepDurationSeconds = "sheetetl_step_duration_seconds"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush pushes buffered metrics, if the backend buffers.
func Flush() error { return current().Flush() }

// RecordIngest counts one ingest outcome (ok, duplicate, error).
func RecordIngest(status string) {
	IncCounter(IngestTotal, 1, Labels{"status": status})
}

// RecordRows counts rows by kind (produced, inserted).
func RecordRows(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"kind": kind})
}

// RecordBatches counts flushed row batches.
func RecordBatches(n int) {
	if n <= 0 {
		return
	}
	IncCounter(BatchesTotal, float64(n), nil)
}

// RecordStep observes how long an ingest step took.
func RecordStep(step, status string, d time.Duration) {
	ObserveHistogram(StepDurationSeconds, d.Seconds(), Labels{"step": step, "status": status})
}
