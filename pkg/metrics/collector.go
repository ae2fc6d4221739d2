// Package metrics tracks per-client request counters and latencies. Each
// Collector keeps cheap atomic counters for the stats surface and mirrors
// them into Prometheus instruments on a caller-supplied registerer.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Snapshot is a point-in-time copy of the collector's counters. All values
// are monotonically non-decreasing until Reset.
type Snapshot struct {
	TotalRequests int64
	SuccessCount  int64
	ErrorCount    int64
	CacheHits     int64
	CacheMisses   int64
	TotalLatency  time.Duration
}

// SuccessRate returns the fraction of completed requests that succeeded.
func (s Snapshot) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalRequests)
}

// ErrorRate returns the fraction of completed requests that failed.
func (s Snapshot) ErrorRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.TotalRequests)
}

// AverageLatency returns the mean duration of completed requests.
func (s Snapshot) AverageLatency() time.Duration {
	if s.TotalRequests == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.TotalRequests)
}

// CacheHitRate returns the fraction of cache lookups that hit.
func (s Snapshot) CacheHitRate() float64 {
	lookups := s.CacheHits + s.CacheMisses
	if lookups == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(lookups)
}

// Collector accumulates request metrics for one client. It is safe for
// concurrent use. A request is counted once, on completion.
type Collector struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	totalLatency  atomic.Int64 // nanoseconds

	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
}

// NewCollector creates a collector registering its Prometheus instruments
// on registry with a client label. Passing a fresh registry per client
// avoids duplicate registration when several clients coexist.
func NewCollector(registry prometheus.Registerer, clientName string) *Collector {
	labels := prometheus.Labels{"client": clientName}

	return &Collector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "upstream_client_requests_total",
				Help:        "Completed requests by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"}, // "success", "error"
		),
		requestDuration: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:        "upstream_client_request_duration_seconds",
				Help:        "Duration of completed requests in seconds",
				Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
				ConstLabels: labels,
			},
		),
		cacheLookups: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "upstream_client_cache_lookups_total",
				Help:        "Response cache lookups by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"}, // "hit", "miss"
		),
	}
}

// RecordSuccess counts one completed successful request.
func (c *Collector) RecordSuccess(latency time.Duration) {
	c.totalRequests.Add(1)
	c.successCount.Add(1)
	c.totalLatency.Add(int64(latency))
	c.requestsTotal.WithLabelValues("success").Inc()
	c.requestDuration.Observe(latency.Seconds())
}

// RecordError counts one completed failed request.
func (c *Collector) RecordError(latency time.Duration) {
	c.totalRequests.Add(1)
	c.errorCount.Add(1)
	c.totalLatency.Add(int64(latency))
	c.requestsTotal.WithLabelValues("error").Inc()
	c.requestDuration.Observe(latency.Seconds())
}

// RecordCacheHit counts a response served from cache. Cache hits do not
// count as completed requests; the pipeline never ran.
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Add(1)
	c.cacheLookups.WithLabelValues("hit").Inc()
}

// RecordCacheMiss counts a cache lookup that fell through to the upstream.
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Add(1)
	c.cacheLookups.WithLabelValues("miss").Inc()
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests: c.totalRequests.Load(),
		SuccessCount:  c.successCount.Load(),
		ErrorCount:    c.errorCount.Load(),
		CacheHits:     c.cacheHits.Load(),
		CacheMisses:   c.cacheMisses.Load(),
		TotalLatency:  time.Duration(c.totalLatency.Load()),
	}
}

// Reset zeroes the snapshot counters. Prometheus counters are cumulative by
// contract and are left untouched.
func (c *Collector) Reset() {
	c.totalRequests.Store(0)
	c.successCount.Store(0)
	c.errorCount.Store(0)
	c.cacheHits.Store(0)
	c.cacheMisses.Store(0)
	c.totalLatency.Store(0)
}
