package fetchcache

import (
	"context"
	"errors"

	"github.com/Sternrassler/pagestore/pkg/pagination"
	"github.com/vmihailenco/msgpack/v5"
)

// Wrap returns a fetch function that answers from m when possible and
// stores successful results of next. Cache failures are logged and never
// fail the fetch; upstream errors are returned unchanged and not cached.
func Wrap[T any](m *Manager, resource string, next pagination.FetchFunc[T]) pagination.FetchFunc[T] {
	return func(ctx context.Context, req pagination.FetchRequest) (pagination.Page[T], error) {
		key, err := KeyFor(resource, req)
		if err != nil {
			return next(ctx, req)
		}

		if page, ok := lookup[T](ctx, m, key); ok {
			return page, nil
		}

		page, err := next(ctx, req)
		if err != nil {
			return page, err
		}

		data, err := msgpack.Marshal(page.Data)
		if err != nil {
			CacheErrors.WithLabelValues("set").Inc()
			m.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to encode page for cache")
			return page, nil
		}
		if err := m.Set(ctx, key, m.NewEntry(page.Total, data)); err != nil {
			m.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache page")
		}
		return page, nil
	}
}

func lookup[T any](ctx context.Context, m *Manager, key PageKey) (pagination.Page[T], bool) {
	entry, err := m.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn().Err(err).Str("key", key.String()).Msg("Fetch cache lookup failed")
		}
		return pagination.Page[T]{}, false
	}

	var data []T
	if err := msgpack.Unmarshal(entry.Data, &data); err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Dropping undecodable cache entry")
		_ = m.Delete(ctx, key)
		return pagination.Page[T]{}, false
	}
	return pagination.Page[T]{Total: entry.Total, Data: data}, true
}
