// Package metrics serves the Prometheus metrics of the proxy.
// The metrics themselves are defined in their packages (cache, client,
// worker) via promauto to keep the packages independent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package registers its metrics with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer the metrics endpoint reads from.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler of the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - botdash_cache_hits_total{store} (Counter): Store lookups that found an entry
//   - botdash_cache_misses_total{store} (Counter): Store lookups without an entry
//   - botdash_cache_writes_total{store} (Counter): Entries written
//   - botdash_cache_write_bytes_total{store} (Counter): Body bytes written
//   - botdash_cache_stores_deleted_total (Counter): Stores deleted by eviction or clear
//   - botdash_cache_errors_total{operation} (Counter): Storage backend errors
//
// Upstream Metrics (pkg/client):
//   - botdash_upstream_requests_total{class, status} (Counter): Requests by error class and status
//   - botdash_upstream_request_duration_seconds{method} (Histogram): Request duration
//
// Worker Metrics (pkg/worker):
//   - botdash_worker_responses_total{strategy, source} (Counter): Intercepted responses by source (network, cache, offline)
//   - botdash_worker_passthrough_total (Counter): Requests that were not intercepted
//   - botdash_worker_state_transitions_total{state} (Counter): Lifecycle transitions
//   - botdash_worker_background_writes_total{result} (Counter): Background API store writes
//   - botdash_worker_clients (Gauge): Connected page clients
//
// Example Prometheus Queries:
//
//   # Share of API responses served while offline from the store
//   sum(rate(botdash_worker_responses_total{strategy="network_first_cache",source="cache"}[5m])) /
//   sum(rate(botdash_worker_responses_total{strategy="network_first_cache"}[5m]))
//
//   # Static store hit rate
//   sum(rate(botdash_cache_hits_total{store=~"static-.*"}[5m])) /
//   (sum(rate(botdash_cache_hits_total{store=~"static-.*"}[5m])) + sum(rate(botdash_cache_misses_total{store=~"static-.*"}[5m])))
//
//   # Upstream failures
//   rate(botdash_upstream_requests_total{class="network"}[5m])
