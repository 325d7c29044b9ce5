package metrics

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	hist     map[string][]float64
	flushes  int
}

func newRecorder() *recorder {
	return &recorder{counters: map[string]float64{}, hist: map[string][]float64{}}
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"|"+labels["status"]+labels["kind"]] += delta
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := name + "|" + labels["step"] + "/" + labels["status"]
	r.hist[k] = append(r.hist[k], value)
}

func (r *recorder) Flush() error {
	r.flushes++
	return nil
}

func TestFacade_RoutesToBackend(t *testing.T) {
	rec := newRecorder()
	SetBackend(rec)
	t.Cleanup(func() { SetBackend(nil) })

	RecordIngest("ok")
	RecordIngest("ok")
	RecordRows("inserted", 3)
	RecordRows("inserted", 0)
	RecordBatches(2)
	RecordStep("materialize", "ok", 1500*time.Millisecond)
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := rec.counters[IngestTotal+"|ok"]; got != 2 {
		t.Fatalf("ingest ok=%v want 2", got)
	}
	if got := rec.counters[RowsTotal+"|inserted"]; got != 3 {
		t.Fatalf("rows inserted=%v want 3", got)
	}
	if got := rec.counters[BatchesTotal+"|"]; got != 2 {
		t.Fatalf("batches=%v want 2", got)
	}
	if got := rec.hist[StepDurationSeconds+"|materialize/ok"]; len(got) != 1 || got[0] != 1.5 {
		t.Fatalf("step samples=%v", got)
	}
	if rec.flushes != 1 {
		t.Fatalf("flushes=%d", rec.flushes)
	}
}

func TestSetBackend_NilRestoresNop(t *testing.T) {
	SetBackend(nil)
	IncCounter(IngestTotal, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush: %v", err)
	}
}
