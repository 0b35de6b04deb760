package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"httpetl/internal/metrics"
)

// readCounterValue reads the current value of a Counter for assertions in tests.
func readCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	require.NotNil(t, m.GetCounter())
	return m.GetCounter().GetValue()
}

// TestNewBackend validates defaults and the required gateway URL.
func TestNewBackend(t *testing.T) {
	t.Parallel()

	_, err := NewBackend("x", "")
	require.Error(t, err)

	b, err := NewBackend("", "http://pushgateway:9091")
	require.NoError(t, err)
	require.Equal(t, "httpetl", b.jobName)

	b, err = NewBackend("nightly", "http://pushgateway:9091")
	require.NoError(t, err)
	require.Equal(t, "nightly", b.jobName)
}

// TestIncCounter routes each metric name to its collector and ignores
// unknown names.
func TestIncCounter(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("etl", "http://example.com")
	require.NoError(t, err)

	b.IncCounter(metrics.StepTotal, 3, metrics.Labels{"pipeline": "users", "step": "fetch", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"pipeline": "users", "kind": "written"})
	b.IncCounter(metrics.BatchesTotal, 2, metrics.Labels{"pipeline": "users"})
	b.IncCounter(metrics.BatchesTotal, 0.5, metrics.Labels{"pipeline": "users"})
	b.IncCounter(metrics.PagesTotal, 1, metrics.Labels{"pipeline": "users", "status": "failure"})
	b.IncCounter(metrics.HTTPRetriesTotal, 4, metrics.Labels{"source": "api"})
	b.IncCounter("unknown_metric", 10, metrics.Labels{"foo": "bar"})

	require.Equal(t, 3.0, readCounterValue(t, b.stepCounter.WithLabelValues("users", "fetch", "success")))
	require.Equal(t, 5.0, readCounterValue(t, b.recordCounter.WithLabelValues("users", "written")))
	require.Equal(t, 2.5, readCounterValue(t, b.batchCounter.WithLabelValues("users")))
	require.Equal(t, 1.0, readCounterValue(t, b.pageCounter.WithLabelValues("users", "failure")))
	require.Equal(t, 4.0, readCounterValue(t, b.retryCounter.WithLabelValues("api")))
}

// TestNilCollectors checks that a zero Backend never panics.
func TestNilCollectors(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	for _, name := range []string{metrics.StepTotal, metrics.RecordsTotal, metrics.BatchesTotal, metrics.PagesTotal, metrics.HTTPRetriesTotal} {
		b.IncCounter(name, 1, metrics.Labels{})
	}
	b.ObserveHistogram(metrics.StepDuration, 1, metrics.Labels{})
}

// TestObserveHistogram records step durations on the summary.
func TestObserveHistogram(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("etl", "http://example.com")
	require.NoError(t, err)

	lbls := metrics.Labels{"pipeline": "users", "step": "job", "status": "success"}
	b.ObserveHistogram(metrics.StepDuration, 1.5, lbls)
	b.ObserveHistogram("other", 2, lbls)

	m := &dto.Metric{}
	metric, ok := b.stepDuration.WithLabelValues("users", "job", "success").(prometheus.Metric)
	require.True(t, ok)
	require.NoError(t, metric.Write(m))
	require.EqualValues(t, 1, m.GetSummary().GetSampleCount())
	require.Equal(t, 1.5, m.GetSummary().GetSampleSum())
}

// TestFlush pushes the registry to a fake Pushgateway.
func TestFlush(t *testing.T) {
	t.Parallel()

	type pushed struct {
		method  string
		path    string
		bodyLen int
	}
	reqCh := make(chan pushed, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqCh <- pushed{method: r.Method, path: r.URL.Path, bodyLen: len(body)}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b, err := NewBackend("etl-job", server.URL)
	require.NoError(t, err)
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"pipeline": "users", "kind": "written"})

	require.NoError(t, b.Flush())

	select {
	case got := <-reqCh:
		require.Equal(t, http.MethodPut, got.method)
		require.Contains(t, got.path, "etl-job")
		require.Positive(t, got.bodyLen)
	default:
		t.Fatal("Flush did not reach the Pushgateway")
	}
}

// TestFlush_EveryCollector pushes one sample of every series. push.Pusher
// refuses series that carry a "job" label of their own, so Flush fails if
// any collector declares one.
func TestFlush_EveryCollector(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b, err := NewBackend("httpetl", server.URL)
	require.NoError(t, err)

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"pipeline": "users", "step": "fetch", "status": "success"})
	b.ObserveHistogram(metrics.StepDuration, 0.2, metrics.Labels{"pipeline": "users", "step": "fetch", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 2, metrics.Labels{"pipeline": "users", "kind": "fetched"})
	b.IncCounter(metrics.BatchesTotal, 1, metrics.Labels{"pipeline": "users"})
	b.IncCounter(metrics.PagesTotal, 1, metrics.Labels{"pipeline": "users", "status": "success"})
	b.IncCounter(metrics.HTTPRetriesTotal, 1, metrics.Labels{"source": "api"})

	mfs, err := b.reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 6)
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				require.NotEqual(t, "job", lp.GetName(), mf.GetName())
			}
		}
	}

	require.NoError(t, b.Flush())
}
