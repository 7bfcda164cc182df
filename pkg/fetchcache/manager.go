package fetchcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

const (
	// DefaultMemorySize is the default number of pages kept in memory.
	DefaultMemorySize = 1024

	// DefaultTTL is the default lifetime of a cached page.
	DefaultTTL = 5 * time.Minute

	scanBatch = 100
)

// Options configures a Manager.
type Options struct {
	// Redis enables the shared Redis layer. Nil keeps the cache in memory only.
	Redis *redis.Client

	// MemorySize is the capacity of the in-memory LRU layer (default 1024)
	MemorySize int

	// TTL is the lifetime of cached pages (default 5m)
	TTL time.Duration

	// Logger receives cache layer warnings
	Logger zerolog.Logger
}

// Manager caches upstream pages in memory and, when configured, in Redis.
type Manager struct {
	redis  *redis.Client
	memory *expirable.LRU[string, *Entry]
	ttl    time.Duration
	logger zerolog.Logger
}

// NewManager creates a new cache manager.
func NewManager(opts Options) *Manager {
	if opts.MemorySize <= 0 {
		opts.MemorySize = DefaultMemorySize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Manager{
		redis:  opts.Redis,
		memory: expirable.NewLRU[string, *Entry](opts.MemorySize, nil, opts.TTL),
		ttl:    opts.TTL,
		logger: opts.Logger,
	}
}

// TTL returns the lifetime given to new entries.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// NewEntry builds an entry expiring after the manager's TTL.
func (m *Manager) NewEntry(total int, data []byte) *Entry {
	now := time.Now()
	return &Entry{
		Total:    total,
		Data:     data,
		CachedAt: now,
		Expires:  now.Add(m.ttl),
	}
}

// Get retrieves a cache entry by key, trying memory before Redis.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key PageKey) (*Entry, error) {
	cacheKey := key.String()

	if entry, ok := m.memory.Get(cacheKey); ok && !entry.IsExpired() {
		CacheHits.WithLabelValues("memory").Inc()
		return entry, nil
	}

	if m.redis == nil {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	data, err := m.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	m.memory.Add(cacheKey, &entry)
	return &entry, nil
}

// Set stores a cache entry in every layer. Expired entries are not stored.
func (m *Manager) Set(ctx context.Context, key PageKey, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	cacheKey := key.String()
	m.memory.Add(cacheKey, entry)

	if m.redis == nil {
		return nil
	}

	data, err := msgpack.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, cacheKey, data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry from every layer.
func (m *Manager) Delete(ctx context.Context, key PageKey) error {
	cacheKey := key.String()
	m.memory.Remove(cacheKey)

	if m.redis == nil {
		return nil
	}
	if err := m.redis.Del(ctx, cacheKey).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// Invalidate removes every cached page of resource and returns how many
// keys were removed across both layers.
func (m *Manager) Invalidate(ctx context.Context, resource string) (int, error) {
	prefix := resourcePrefix(resource)

	removed := 0
	for _, key := range m.memory.Keys() {
		if strings.HasPrefix(key, prefix) && m.memory.Remove(key) {
			removed++
		}
	}

	if m.redis == nil {
		return removed, nil
	}

	var cursor uint64
	for {
		keys, next, err := m.redis.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			CacheErrors.WithLabelValues("invalidate").Inc()
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := m.redis.Del(ctx, keys...).Result()
			if err != nil {
				CacheErrors.WithLabelValues("invalidate").Inc()
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	m.logger.Debug().Str("resource", resource).Int("removed", removed).Msg("Fetch cache invalidated")
	return removed, nil
}
