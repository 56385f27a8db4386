package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks store hits by store name
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botdash_cache_hits_total",
			Help: "Total number of cache store hits",
		},
		[]string{"store"}, // "static-v1.0.0", "api-v1.0.0"
	)

	// CacheMisses tracks store misses by store name
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botdash_cache_misses_total",
			Help: "Total number of cache store misses",
		},
		[]string{"store"},
	)

	// CacheWrites tracks entries written by store name
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botdash_cache_writes_total",
			Help: "Total number of entries written to cache stores",
		},
		[]string{"store"},
	)

	// CacheWriteBytes tracks bytes written by store name
	CacheWriteBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botdash_cache_write_bytes_total",
			Help: "Total number of bytes written to cache stores",
		},
		[]string{"store"},
	)

	// StoresDeleted tracks whole stores removed by eviction or clear-cache
	StoresDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botdash_cache_stores_deleted_total",
			Help: "Total number of cache stores deleted",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botdash_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "open", "match", "put", "delete", "keys", ...
	)
)
