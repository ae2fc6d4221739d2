package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_cache_hits_total",
			Help: "Total response cache hits by backend",
		},
		[]string{"backend"}, // "memory", "redis"
	)

	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_cache_misses_total",
			Help: "Total response cache misses by backend",
		},
		[]string{"backend"},
	)

	cacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_cache_evictions_total",
			Help: "Total entries evicted to make room for new insertions",
		},
		[]string{"backend"},
	)

	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_cache_errors_total",
			Help: "Total cache backend errors by operation",
		},
		[]string{"operation"}, // "get", "set", "delete", "clear"
	)
)
