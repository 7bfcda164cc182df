package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for resource operations.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestore_fetches_total",
		Help: "Total page fetches by resource and outcome",
	}, []string{"resource", "outcome"}) // "ok", "error"

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagestore_fetch_duration_seconds",
		Help:    "Page fetch duration in seconds by resource",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"resource"})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestore_cache_hits_total",
		Help: "Loads served entirely from the registry",
	}, []string{"resource"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestore_cache_misses_total",
		Help: "Loads that required at least one fetch",
	}, []string{"resource"})

	prefetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestore_prefetches_total",
		Help: "Next-page prefetches issued",
	}, []string{"resource"})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagestore_evictions_total",
		Help: "Partitions removed by eviction sweeps",
	}, []string{"resource"})

	partitionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pagestore_partitions",
		Help: "Current number of cached partitions, default included",
	}, []string{"resource"})

	gateWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagestore_gate_wait_seconds",
		Help:    "Time spent waiting for the single-flight gate",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
	}, []string{"resource"})
)
