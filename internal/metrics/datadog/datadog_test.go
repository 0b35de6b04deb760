package datadog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"httpetl/internal/metrics"
)

type recordedCall struct {
	kind  string
	name  string
	value float64
	tags  []string
}

type fakeStatsd struct {
	calls  []recordedCall
	closed bool
}

func (f *fakeStatsd) Count(name string, value int64, tags []string, _ float64) error {
	f.calls = append(f.calls, recordedCall{"count", name, float64(value), tags})
	return nil
}

func (f *fakeStatsd) Histogram(name string, value float64, tags []string, _ float64) error {
	f.calls = append(f.calls, recordedCall{"histogram", name, value, tags})
	return nil
}

func (f *fakeStatsd) Close() error {
	f.closed = true
	return nil
}

// TestBackend_ForwardsWithTags checks the metric to DogStatsD mapping.
func TestBackend_ForwardsWithTags(t *testing.T) {
	t.Parallel()

	fake := &fakeStatsd{}
	b := &Backend{client: fake}

	b.IncCounter(metrics.PagesTotal, 2, metrics.Labels{"status": "success", "pipeline": "users"})
	b.ObserveHistogram(metrics.StepDuration, 0.25, metrics.Labels{"pipeline": "users"})
	require.NoError(t, b.Flush())

	require.Equal(t, []recordedCall{
		{"count", metrics.PagesTotal, 2, []string{"pipeline:users", "status:success"}},
		{"histogram", metrics.StepDuration, 0.25, []string{"pipeline:users"}},
	}, fake.calls)
	require.True(t, fake.closed)
}

// TestNewBackend_RequiresAddr rejects an empty address.
func TestNewBackend_RequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := NewBackend(Config{})
	require.Error(t, err)

	var zero Backend
	zero.IncCounter("x", 1, nil)
	require.NoError(t, zero.Flush())
}
