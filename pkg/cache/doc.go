// Package cache provides the named, versioned response stores used by the
// caching proxy.
//
// A Storage is a set of named stores; a Store maps a request URL to a stored
// response Entry. Two backends exist:
//
//   - RedisStorage: shared by all proxy replicas (go-redis)
//   - MemoryStorage: in-process (patrickmn/go-cache)
//
// # Versioned store names
//
// Every store name is namespaced by a version tag:
//
//	names := cache.NamesForVersion("v1.0.0")
//	// names.Static == "static-v1.0.0", names.API == "api-v1.0.0"
//
// Changing the version tag invalidates all older stores the next time
// Manager.EvictStale runs (on activation of a new worker).
//
// # Basic Usage
//
//	storage := cache.NewRedisStorage(redisClient, cache.DefaultNamespace)
//	manager := cache.NewManager(storage, "v1.0.0")
//
//	store, err := manager.API(ctx)
//	if err != nil {
//		return err
//	}
//
//	entry, err := cache.ResponseToEntry(resp)
//	if err != nil {
//		return err
//	}
//	entry.Stamp(time.Now())
//	if err := store.Put(ctx, cache.RequestKey(req), entry); err != nil {
//		return err
//	}
//
//	cached, err := store.Match(ctx, cache.RequestKey(req))
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// nothing stored for this URL
//	}
//
// # Envelope headers
//
//   - X-Cached-At: millisecond epoch written when an API response is stored
//   - X-From-Cache: "true" on API responses served from the store
//   - X-Cache-Age: age in milliseconds of such a response
//
// Entries without X-Cached-At are legacy entries and are treated as always
// valid by the API fallback.
//
// # Metrics
//
//   - botdash_cache_hits_total{store}
//   - botdash_cache_misses_total{store}
//   - botdash_cache_writes_total{store}
//   - botdash_cache_write_bytes_total{store}
//   - botdash_cache_stores_deleted_total
//   - botdash_cache_errors_total{operation}
package cache
