// Package pagination caches paginated datasets client side and serves paged
// views of them.
//
// A Resource owns one fetch function and a registry of partitions, one per
// distinct argument value. Instances are paged views (a single page or an
// inclusive page range) bound to one partition. When an instance asks for
// pages that are not cached, the missing pages are fetched through a
// single-flight gate and merged into the partition at their offsets; pages
// already cached are never fetched again.
//
// Example usage:
//
//	store := pagination.NewStore()
//	ctrl, err := pagination.CreateResource(store, "orders", fetchOrders, pagination.Options{Prefetch: true})
//	b, err := pagination.CreateInstance[Order](store, "orders", pagination.InstanceOptions{PageSize: 25})
//	ctrl.Wait()
//	view := b.View()
//	err = b.Set(ctx, pagination.FieldPage, 2)
//
// Behaviour worth knowing:
//   - A fetch reporting a different total resets the whole partition
//   - Prefetch loads the page after the current one once a load completes
//   - Partitions without a live instance are evicted oldest first once the
//     resource holds more than CacheCapacity of them
//   - Fetch errors are returned to the caller; the instance stays loading
//
// Pages of one batch are fetched in parallel by a bounded worker pool.
package pagination
