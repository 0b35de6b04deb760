// These tests exercise the retrying GET client against httptest servers:
// success without retry, transient statuses, exhausted budgets, non-retryable
// statuses, malformed URLs, base query/header merging and delay bounds.

package httpds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

// TestGet_SuccessNoRetry returns the first 200 response untouched.
func TestGet_SuccessNoRetry(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Retry: fastPolicy(3)})
	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, hits.Load())
}

// TestGet_RetriesTransientThenSucceeds recovers after 503 and 429.
func TestGet_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Retry: fastPolicy(5)})
	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.EqualValues(t, 3, hits.Load())
}

// TestGet_ExhaustedRetries surfaces the last error tagged as exhausted.
func TestGet_ExhaustedRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Retry: fastPolicy(3)})
	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	require.True(t, IsExhausted(err))
	require.False(t, IsNonRetryable(err))
	require.Equal(t, http.StatusBadGateway, StatusCode(err))
	require.EqualValues(t, 3, hits.Load())

	var re *RetryError
	require.True(t, errors.As(err, &re))
	require.Equal(t, 3, re.Attempts)
}

// TestGet_NonRetryableStatus fails on the first 404.
func TestGet_NonRetryableStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Retry: fastPolicy(5)})
	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	require.True(t, IsNonRetryable(err))
	require.Equal(t, http.StatusNotFound, StatusCode(err))
	require.EqualValues(t, 1, hits.Load())
	require.Contains(t, err.Error(), "missing")
}

// TestGet_MalformedURL never reaches the network.
func TestGet_MalformedURL(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, Config{Retry: fastPolicy(5)})
	for _, raw := range []string{"://nope", "ftp://example.com/x", "http://"} {
		_, err := c.Get(context.Background(), raw, nil)
		require.Error(t, err, raw)
		require.True(t, IsNonRetryable(err), raw)
	}
}

// TestGet_NetworkErrorIsTransient retries a closed server until exhausted.
func TestGet_NetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := newTestClient(t, Config{Retry: fastPolicy(2)})
	_, err := c.Get(context.Background(), addr, nil)
	require.True(t, IsExhausted(err))
}

// TestGet_DelaysWithinBounds reads the delays from the retry log lines.
func TestGet_DelaysWithinBounds(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	policy := RetryPolicy{MaxAttempts: 5, MinDelay: 2 * time.Millisecond, MaxDelay: 6 * time.Millisecond}
	c := newTestClient(t, Config{Retry: policy, Logger: zap.New(core), Name: "src"})

	_, err := c.Get(context.Background(), srv.URL, nil)
	require.True(t, IsExhausted(err))

	retries := logs.FilterMessage("http attempt failed, retrying").All()
	require.Len(t, retries, 4)
	for _, e := range retries {
		d := e.ContextMap()["delay"].(time.Duration)
		require.GreaterOrEqual(t, d, policy.MinDelay)
		require.LessOrEqual(t, d, policy.MaxDelay)
	}
	require.Len(t, logs.FilterMessage("http request failed").All(), 1)
}

// TestGet_QueryAndHeaders merges base and per-call parameters.
func TestGet_QueryAndHeaders(t *testing.T) {
	t.Parallel()

	var gotQuery url.Values
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	c := newTestClient(t, Config{
		Retry:       fastPolicy(1),
		BaseHeaders: http.Header{"Authorization": {"Bearer t0k"}},
		Query:       url.Values{"api_key": {"k"}, "limit": {"1"}},
	})
	resp, err := c.Clone().Get(context.Background(), srv.URL+"?fixed=yes", url.Values{"limit": {"50"}, "offset": {"100"}})
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, "Bearer t0k", gotAuth)
	require.Equal(t, "yes", gotQuery.Get("fixed"))
	require.Equal(t, "k", gotQuery.Get("api_key"))
	require.Equal(t, "50", gotQuery.Get("limit"))
	require.Equal(t, "100", gotQuery.Get("offset"))
}

// TestGet_ContextCanceled stops retrying once the context is done.
func TestGet_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, Config{Retry: fastPolicy(5)})
	_, err := c.Get(ctx, srv.URL, nil)
	require.Error(t, err)
	require.False(t, IsExhausted(err))
}

// TestRetryPolicy_Validate pins the policy invariants.
func TestRetryPolicy_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultRetryPolicy().Validate())
	require.Error(t, RetryPolicy{MaxAttempts: 0, MaxDelay: time.Second}.Validate())
	require.Error(t, RetryPolicy{MaxAttempts: 1, MinDelay: 2 * time.Second, MaxDelay: time.Second}.Validate())

	_, err := NewClient(Config{Retry: RetryPolicy{MaxAttempts: -1}})
	require.Error(t, err)
}

// TestIsRetryableStatus classifies the status table.
func TestIsRetryableStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{429, 500, 502, 503, 599} {
		require.True(t, IsRetryableStatus(code), code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 422} {
		require.False(t, IsRetryableStatus(code), code)
	}
}
