// Package httpds implements the HTTP datasource used by the pagination
// engine: a GET client with exponential-backoff retry, optional request rate
// limiting and per-source base headers and query parameters.
//
// Retry classification:
//
//   - transport errors, 5xx and 429 are transient and retried;
//   - any other non-2xx status and request construction errors (bad URL)
//     fail on the first attempt.
//
// Failures are returned as *RetryError so callers can tell an exhausted retry
// budget apart from a non-retryable failure.
package httpds

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"httpetl/internal/metrics"
)

// Config configures the client. Zero values get defaults: Timeout 30s,
// Retry DefaultRetryPolicy(), no rate limit.
type Config struct {
	// Timeout is the per-attempt timeout applied at the http.Client level.
	Timeout time.Duration

	// Retry bounds the retry loop around every Get.
	Retry RetryPolicy

	// BaseHeaders are added to every request.
	BaseHeaders http.Header

	// Query holds parameters merged into every request URL. Per-call
	// parameters passed to Get take precedence.
	Query url.Values

	// RateLimit caps requests per second across all clones of the client.
	// Zero disables limiting.
	RateLimit float64
	Burst     int

	InsecureSkipVerify bool

	// Transport is an optional custom RoundTripper.
	Transport http.RoundTripper

	// Name labels log lines and metrics, usually the source name.
	Name   string
	Logger *zap.Logger
}

// Client wraps an http.Client with retry and backoff behavior. Clones share
// the underlying connection pool and rate limiter.
type Client struct {
	httpClient  *http.Client
	policy      RetryPolicy
	baseHeaders http.Header
	query       url.Values
	limiter     *rate.Limiter
	name        string
	logger      *zap.Logger

	// timer is nil outside tests; backoff then uses real timers.
	timer backoff.Timer
}

// NewClient constructs a Client from Config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	transport := cfg.Transport
	if transport == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly configurable
		}
		transport = base
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		policy:      cfg.Retry,
		baseHeaders: cfg.BaseHeaders.Clone(),
		query:       cloneValues(cfg.Query),
		limiter:     limiter,
		name:        cfg.Name,
		logger:      logger,
	}, nil
}

// Clone returns a shallow copy for use by a concurrent fetch task.
func (c *Client) Clone() *Client {
	cp := *c
	return &cp
}

// Policy returns the retry policy in effect.
func (c *Client) Policy() RetryPolicy { return c.policy }

// Get issues a GET to rawURL with params merged over the base query. The
// caller must close the body of a successful response.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*http.Response, error) {
	start := time.Now()

	target, err := c.buildURL(rawURL, params)
	if err != nil {
		return nil, &RetryError{URL: rawURL, Attempts: 0, Elapsed: time.Since(start), Err: err}
	}

	var (
		resp      *http.Response
		attempts  int
		permanent bool
	)
	op := func() error {
		attempts++
		r, err := c.attempt(ctx, target)
		if err != nil {
			if !isTransient(ctx, err) {
				permanent = true
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, d time.Duration) {
		c.logger.Warn("http attempt failed, retrying",
			zap.String("source", c.name),
			zap.String("url", target),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", c.policy.MaxAttempts),
			zap.Duration("delay", d),
			zap.Error(err))
		metrics.RecordHTTPRetry(c.name)
	}

	b := backoff.WithContext(c.policy.backOff(), ctx)
	err = backoff.RetryNotifyWithTimer(op, b, notify, c.timer)
	elapsed := time.Since(start)

	if err == nil {
		if attempts > 1 {
			c.logger.Info("http request succeeded after retries",
				zap.String("source", c.name),
				zap.String("url", target),
				zap.Int("attempts", attempts),
				zap.Duration("elapsed", elapsed))
		}
		return resp, nil
	}

	rerr := &RetryError{
		URL:       target,
		Attempts:  attempts,
		Elapsed:   elapsed,
		Exhausted: !permanent && ctx.Err() == nil,
		Err:       err,
	}
	c.logger.Warn("http request failed",
		zap.String("source", c.name),
		zap.String("url", target),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", elapsed),
		zap.Bool("exhausted", rerr.Exhausted),
		zap.Error(err))
	return nil, rerr
}

// attempt performs one request. Non-2xx responses are drained, closed and
// turned into *StatusError.
func (c *Client) attempt(ctx context.Context, target string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &requestError{err: fmt.Errorf("httpds: build request: %w", err)}
	}
	for k, vs := range c.baseHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, application/x-ndjson;q=0.9")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_ = resp.Body.Close()
	return nil, &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(snippet)),
	}
}

func (c *Client) buildURL(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("httpds: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("httpds: unsupported url scheme %q in %q", u.Scheme, rawURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("httpds: url %q has no host", rawURL)
	}
	if len(c.query) == 0 && len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, vs := range c.query {
		q[k] = append([]string(nil), vs...)
	}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// isTransient classifies an attempt error.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return IsRetryableStatus(se.StatusCode)
	}
	var re *requestError
	if errors.As(err, &re) {
		return false
	}
	return true
}

// IsRetryableStatus reports whether an HTTP status is transient: 429 and 5xx.
func IsRetryableStatus(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
