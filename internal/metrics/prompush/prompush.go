// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// One process run covers many pipeline jobs, so every collector carries a
// "pipeline" label (the template name) while the Pushgateway grouping job is
// the binary-level name passed to NewBackend. The Pushgateway rejects pushed
// series that carry their own "job" label.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"httpetl/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stepCounter   *prometheus.CounterVec // etl_step_total{pipeline,step,status}
	stepDuration  *prometheus.SummaryVec // etl_step_duration_seconds{pipeline,step,status}
	recordCounter *prometheus.CounterVec // etl_records_total{pipeline,kind}
	batchCounter  *prometheus.CounterVec // etl_batches_total{pipeline}
	pageCounter   *prometheus.CounterVec // etl_pages_total{pipeline,status}
	retryCounter  *prometheus.CounterVec // etl_http_retries_total{source}
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name; defaults to "httpetl".
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "httpetl"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline step executions by job, step and status.",
		}, []string{"pipeline", "step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Pipeline step duration in seconds by job, step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"pipeline", "step", "status"}),
		recordCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Rows by job and kind (fetched, written).",
		}, []string{"pipeline", "kind"}),
		batchCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Sink statements flushed per job.",
		}, []string{"pipeline"}),
		pageCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.PagesTotal,
			Help: "Page writes by job and status.",
		}, []string{"pipeline", "status"}),
		retryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.HTTPRetriesTotal,
			Help: "Retried HTTP attempts per source.",
		}, []string{"source"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter":   b.stepCounter,
		"step summary":   b.stepDuration,
		"record counter": b.recordCounter,
		"batch counter":  b.batchCounter,
		"page counter":   b.pageCounter,
		"retry counter":  b.retryCounter,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

// IncCounter routes known metric names to their collectors and ignores the rest.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter != nil {
			b.stepCounter.WithLabelValues(labels["pipeline"], labels["step"], labels["status"]).Add(delta)
		}
	case metrics.RecordsTotal:
		if b.recordCounter != nil {
			b.recordCounter.WithLabelValues(labels["pipeline"], labels["kind"]).Add(delta)
		}
	case metrics.BatchesTotal:
		if b.batchCounter != nil {
			b.batchCounter.WithLabelValues(labels["pipeline"]).Add(delta)
		}
	case metrics.PagesTotal:
		if b.pageCounter != nil {
			b.pageCounter.WithLabelValues(labels["pipeline"], labels["status"]).Add(delta)
		}
	case metrics.HTTPRetriesTotal:
		if b.retryCounter != nil {
			b.retryCounter.WithLabelValues(labels["source"]).Add(delta)
		}
	}
}

// ObserveHistogram records step durations; other names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDuration || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["pipeline"], labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
