// Package ratelimit implements per-key sliding-window admission control.
// Unlike a fixed bucket, consecutive windows overlap smoothly: a request is
// admitted iff fewer than limit requests were admitted in the trailing
// window, measured from the moment of the check.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for rate limit decisions.
var (
	rateLimitAllowedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upstream_rate_limit_allowed_total",
		Help: "Total requests admitted by the sliding-window rate limiter",
	})

	rateLimitDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upstream_rate_limit_denied_total",
		Help: "Total requests denied by the sliding-window rate limiter",
	})

	rateLimitTrackedKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upstream_rate_limit_tracked_keys",
		Help: "Number of keys currently tracked by the rate limiter",
	})
)

// Limiter tracks admission timestamps per key. It is safe for concurrent
// use; the check-and-append for a key is atomic under one mutex.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string][]time.Time),
	}
}

// Allow reports whether one more request for key is admissible under the
// given limit and trailing window. When admitted, the attempt is recorded;
// denied attempts are not recorded and do not shrink the window.
func (l *Limiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 || window <= 0 {
		return false
	}

	now := time.Now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.windows[key]

	// Drop timestamps that fell out of the trailing window. The slice is in
	// append order, so the survivors are a suffix.
	keep := 0
	for keep < len(stamps) && !stamps[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		stamps = append(stamps[:0:0], stamps[keep:]...)
	}

	if len(stamps) >= limit {
		l.windows[key] = stamps
		rateLimitDeniedTotal.Inc()
		return false
	}

	l.windows[key] = append(stamps, now)
	rateLimitAllowedTotal.Inc()
	return true
}

// Reset clears the recorded window for one key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// ResetAll clears every recorded window.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string][]time.Time)
}

// Cleanup drops keys whose entire window has expired, bounding memory for
// keys that stopped sending traffic. maxAge is the window of the slowest
// policy in use; entries older than it can never influence a decision, so
// cleanup never changes the outcome of a concurrent Allow.
func (l *Limiter) Cleanup(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, stamps := range l.windows {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.windows, key)
		}
	}
	rateLimitTrackedKeys.Set(float64(len(l.windows)))
}

// Keys returns the number of keys currently tracked.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
