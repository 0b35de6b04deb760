// Package metrics records operational metrics from the fetch/transform/load
// pipeline behind a small backend-agnostic interface.
//
// A global backend defaults to a no-op implementation, so every Record*
// helper is safe to call whether or not a real backend (Prometheus
// Pushgateway, Datadog) was installed with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the helpers below.
const (
	StepTotal        = "etl_step_total"
	StepDuration     = "etl_step_duration_seconds"
	RecordsTotal     = "etl_records_total"
	BatchesTotal     = "etl_batches_total"
	PagesTotal       = "etl_pages_total"
	HTTPRetriesTotal = "etl_http_retries_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
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

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep measures latency and success/failure of one pipeline step
// ("fetch", "job", ...).
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"pipeline": job, "step": step, "status": status}

	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow increments a record-level counter. Kinds used by the pipeline:
// "fetched", "written".
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{"pipeline": job, "kind": kind})
}

// RecordBatches increments the number of sink statements flushed for a job.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{"pipeline": job})
}

// RecordPage counts one page outcome; status is "ok" or "error".
func RecordPage(job, status string) {
	current().IncCounter(PagesTotal, 1, Labels{"pipeline": job, "status": status})
}

// RecordHTTPRetry counts one retried HTTP attempt for a source.
func RecordHTTPRetry(source string) {
	current().IncCounter(HTTPRetriesTotal, 1, Labels{"source": source})
}
