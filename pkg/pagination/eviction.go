package pagination

import (
	"context"

	"github.com/Sternrassler/pagestore/pkg/registry"
)

// sweep runs when the partition count exceeds CacheCapacity and keeps the
// CacheCapacity most recently updated eviction candidates, evicting the rest.
// Candidates are partitions that have been written at least once and that no
// live instance is bound to; the default partition never is one.
func (r *Resource[T]) sweep(ctx context.Context) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()

	r.mu.Lock()
	if r.registry.Len() <= r.opts.CacheCapacity {
		r.mu.Unlock()
		return nil
	}

	bound := make(map[registry.Key]bool, len(r.instances))
	for _, st := range r.instances {
		bound[st.cfg.RegistryKey] = true
	}
	candidates := r.registry.Oldest(func(key registry.Key) bool { return bound[key] })
	candidates = candidates[:max(len(candidates)-r.opts.CacheCapacity, 0)]
	removed := r.registry.Evict(candidates...)
	remaining := r.registry.Len()
	r.mu.Unlock()

	partitionsGauge.WithLabelValues(r.name).Set(float64(remaining))
	if removed > 0 {
		evictionsTotal.WithLabelValues(r.name).Add(float64(removed))
		r.logger.Debug().
			Int("evicted", removed).
			Int("remaining", remaining).
			Int("capacity", r.opts.CacheCapacity).
			Msg("Evicted partitions")
	}
	return nil
}
