package client

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy decides whether a failed attempt is worth repeating and how
// long to back off before the next one.
type RetryPolicy struct {
	// MaxRetries is the number of retries allowed beyond the first attempt.
	MaxRetries int

	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff regardless of attempt number.
	MaxDelay time.Duration

	// Jitter is the fraction of symmetric randomness applied to each delay
	// so concurrent retries do not synchronize. 0.2 means +/-20%.
	Jitter float64
}

// DefaultRetryPolicy returns the default policy: 3 retries, 1s base
// doubling per attempt, capped at 30s, with +/-20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     0.2,
	}
}

// ShouldRetry reports whether the attempt-th call (1-based), having failed
// with err, should be followed by another attempt.
func (p RetryPolicy) ShouldRetry(err *Error, attempt int) bool {
	if attempt > p.MaxRetries {
		return false
	}
	return err.Retryable()
}

// ComputeDelay returns the backoff after the attempt-th call (attempt >= 1):
// min(base * 2^(attempt-1), max), jittered. The result never exceeds
// MaxDelay.
func (p RetryPolicy) ComputeDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// 2^62ns overflows anything sane long before this bound.
	if attempt > 32 {
		attempt = 32
	}

	delay := p.BaseDelay << (attempt - 1)
	if delay <= 0 || delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 {
		span := 2 * p.Jitter
		delay = time.Duration(float64(delay) * (1 - p.Jitter + span*rand.Float64()))
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// DelayFor returns the backoff to apply after err on the attempt-th call.
// An upstream Retry-After hint takes precedence over the computed backoff
// when present and sane.
func (p RetryPolicy) DelayFor(err *Error, attempt int) time.Duration {
	if err != nil && err.RetryAfter > 0 && err.RetryAfter <= p.MaxDelay {
		return err.RetryAfter
	}
	return p.ComputeDelay(attempt)
}

// parseRetryAfter parses a Retry-After header in either delay-seconds or
// HTTP-date form. Returns 0 when absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return 0
}
