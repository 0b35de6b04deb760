package httpds

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Defaults for RetryPolicy.
const (
	DefaultMaxAttempts = 7
	DefaultMinDelay    = 250 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second
)

// RetryPolicy bounds the retry loop of one request. MaxAttempts counts the
// first attempt, so MaxAttempts=1 disables retries.
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is six retries between 250ms and 8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		MinDelay:    DefaultMinDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Validate enforces MaxAttempts >= 1 and 0 <= MinDelay <= MaxDelay.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("httpds: retry max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.MinDelay < 0 {
		return fmt.Errorf("httpds: retry min_delay must be >= 0, got %s", p.MinDelay)
	}
	if p.MaxDelay < p.MinDelay {
		return fmt.Errorf("httpds: retry max_delay (%s) must be >= min_delay (%s)", p.MaxDelay, p.MinDelay)
	}
	return nil
}

// backOff builds a jittered exponential schedule clamped to
// [MinDelay, MaxDelay] that stops after MaxAttempts-1 retries.
func (p RetryPolicy) backOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.MinDelay
	eb.MaxInterval = p.MaxDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(&boundedBackOff{inner: eb, min: p.MinDelay, max: p.MaxDelay}, uint64(p.MaxAttempts-1))
}

// boundedBackOff clamps the jittered intervals of inner.
type boundedBackOff struct {
	inner    backoff.BackOff
	min, max time.Duration
}

func (b *boundedBackOff) NextBackOff() time.Duration {
	d := b.inner.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if d < b.min {
		d = b.min
	}
	if d > b.max {
		d = b.max
	}
	return d
}

func (b *boundedBackOff) Reset() { b.inner.Reset() }

// RetryError is returned by Client.Get when no successful response was
// obtained.
type RetryError struct {
	URL      string
	Attempts int
	Elapsed  time.Duration
	// Exhausted is true when every attempt failed with a transient error.
	// False means the last error was not retryable.
	Exhausted bool
	Err       error
}

func (e *RetryError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("GET %s: retries exhausted after %d attempts in %s: %v", e.URL, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
	}
	return fmt.Sprintf("GET %s: non-retryable failure after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// IsExhausted reports whether err is a RetryError that ran out of attempts.
func IsExhausted(err error) bool {
	var re *RetryError
	return errors.As(err, &re) && re.Exhausted
}

// IsNonRetryable reports whether err is a RetryError that failed on a
// non-transient error.
func IsNonRetryable(err error) bool {
	var re *RetryError
	return errors.As(err, &re) && !re.Exhausted
}

// StatusError is a non-2xx response. Body holds at most 512 bytes.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "unexpected status " + e.Status
	}
	return fmt.Sprintf("unexpected status %s: %s", e.Status, e.Body)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// requestError marks failures that happen before anything is sent.
type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }
