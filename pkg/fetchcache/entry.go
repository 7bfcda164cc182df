package fetchcache

import (
	"time"
)

// Entry is one cached upstream page.
type Entry struct {
	// Total is the dataset size reported with the page
	Total int `msgpack:"total"`

	// Data is the msgpack encoding of the page's items
	Data []byte `msgpack:"data"`

	// CachedAt is when we cached this page
	CachedAt time.Time `msgpack:"cached_at"`

	// Expires is when the entry becomes stale
	Expires time.Time `msgpack:"expires"`
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
