// Package metrics provides the Prometheus registry used by pagestore.
// Metrics are defined in their respective packages (pagination, fetchcache,
// upstream, ratelimit) to maintain modularity and avoid circular dependencies.
//
// This package provides the exposition handler and a catalogue of every metric.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer pagestore metrics are registered with.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the Prometheus exposition of Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Catalogue lists the name of every pagestore metric.
var Catalogue = []string{
	"pagestore_fetches_total",
	"pagestore_fetch_duration_seconds",
	"pagestore_cache_hits_total",
	"pagestore_cache_misses_total",
	"pagestore_prefetches_total",
	"pagestore_evictions_total",
	"pagestore_partitions",
	"pagestore_gate_wait_seconds",
	"pagestore_fetchcache_hits_total",
	"pagestore_fetchcache_misses_total",
	"pagestore_fetchcache_errors_total",
	"pagestore_upstream_requests_total",
	"pagestore_upstream_request_duration_seconds",
	"pagestore_upstream_errors_total",
	"pagestore_upstream_retries_total",
	"pagestore_upstream_retry_backoff_seconds",
	"pagestore_upstream_retry_exhausted_total",
	"pagestore_upstream_ratelimit_remaining",
	"pagestore_upstream_ratelimit_blocks_total",
	"pagestore_upstream_ratelimit_throttles_total",
}

// Metrics Documentation
//
// Engine Metrics (pkg/pagination):
//   - pagestore_fetches_total{resource, outcome} (Counter): fetchPage calls by outcome (ok, error)
//   - pagestore_fetch_duration_seconds{resource} (Histogram): fetchPage duration
//   - pagestore_cache_hits_total{resource} (Counter): loads answered by the registry
//   - pagestore_cache_misses_total{resource} (Counter): loads that needed a fetch
//   - pagestore_prefetches_total{resource} (Counter): next-page prefetches issued
//   - pagestore_evictions_total{resource} (Counter): partitions evicted
//   - pagestore_partitions{resource} (Gauge): partitions currently held
//   - pagestore_gate_wait_seconds{resource} (Histogram): time spent waiting on the single-flight gate
//
// Fetch Cache Metrics (pkg/fetchcache):
//   - pagestore_fetchcache_hits_total{layer="memory|redis"} (Counter): cache hits by layer
//   - pagestore_fetchcache_misses_total (Counter): cache misses
//   - pagestore_fetchcache_errors_total{operation} (Counter): cache operation errors
//
// Upstream Metrics (pkg/upstream):
//   - pagestore_upstream_requests_total{status} (Counter): requests by HTTP status
//   - pagestore_upstream_request_duration_seconds{status} (Histogram): request duration
//   - pagestore_upstream_errors_total{class} (Counter): errors by class (client, server, rate_limit, network)
//   - pagestore_upstream_retries_total{error_class} (Counter): retry attempts by error class
//   - pagestore_upstream_retry_backoff_seconds{error_class} (Histogram): backoff duration
//   - pagestore_upstream_retry_exhausted_total{error_class} (Counter): requests that exhausted retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - pagestore_upstream_ratelimit_remaining{scope} (Gauge): requests left in the upstream window
//   - pagestore_upstream_ratelimit_blocks_total{scope} (Counter): requests blocked on an exhausted budget
//   - pagestore_upstream_ratelimit_throttles_total{scope} (Counter): requests delayed on a low budget
//
// Example Prometheus Queries:
//
//   # Registry Hit Rate
//   sum(rate(pagestore_cache_hits_total[5m])) /
//   (sum(rate(pagestore_cache_hits_total[5m])) + sum(rate(pagestore_cache_misses_total[5m])))
//
//   # Fetch Error Rate per Resource
//   sum by (resource) (rate(pagestore_fetches_total{outcome="error"}[5m]))
//
//   # P95 Single-Flight Wait
//   histogram_quantile(0.95, rate(pagestore_gate_wait_seconds_bucket[5m]))
//
//   # Upstream Budget
//   pagestore_upstream_ratelimit_remaining < 10
