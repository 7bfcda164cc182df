// Package fetchcache provides a fetch-through response cache for pagination
// fetch functions, with an in-memory LRU layer and an optional Redis layer.
//
// The pagination engine caches merged items per resource, but every process
// starts cold and a Refresh drops everything. fetchcache sits below the
// engine and caches individual upstream pages, so a restarted proxy or a
// second replica can answer from Redis instead of calling the upstream again.
//
// # Basic Usage
//
//	// Create Redis client (optional)
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager
//	manager := fetchcache.NewManager(fetchcache.Options{
//		Redis: redisClient,
//		TTL:   5 * time.Minute,
//	})
//
//	// Wrap a fetch function
//	fetch := fetchcache.Wrap(manager, "orders", fetchOrders)
//	ctrl, err := pagination.CreateResource(store, "orders", fetch, pagination.DefaultOptions())
//
// # Keys
//
// Each cached page is keyed by resource, argument fingerprint, page size and
// page number:
//
//	pagestore:orders:default:size=10:page=2
//
// Invalidate removes every page of one resource from both layers.
//
// # Metrics
//
//   - pagestore_fetchcache_hits_total{layer="memory|redis"} - Cache hits
//   - pagestore_fetchcache_misses_total - Cache misses
//   - pagestore_fetchcache_errors_total{operation} - Cache operation errors
package fetchcache
