package fetchcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagestore_fetchcache_hits_total",
			Help: "Total number of fetch cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagestore_fetchcache_misses_total",
			Help: "Total number of fetch cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagestore_fetchcache_errors_total",
			Help: "Total number of fetch cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "invalidate", "decode"
	)
)
