// Package registry stores fetched items per argument fingerprint.
//
// A Store holds one Partition per key. A partition is a fixed-length,
// partially filled sequence: its length is the last total reported for that
// key and every slot is either unset or holds an item. Unset slots are
// tracked separately from the items, so a zero-value item is never confused
// with a missing one.
//
// Store is not safe for concurrent use; callers serialize access.
package registry

import (
	"errors"
	"sort"
	"time"
)

// Key identifies a partition.
type Key string

// DefaultKey is the partition used by instances without arguments.
// It exists from creation and is never evicted.
const DefaultKey Key = "default"

// ErrIncomplete is returned by Slice when a requested position is unset.
var ErrIncomplete = errors.New("registry: slice incomplete")

// Option configures a Store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Store maps keys to partitions.
type Store[T any] struct {
	partitions map[Key]*Partition[T]
	now        func() time.Time
	seq        uint64
}

// New creates a store holding only the default partition.
func New[T any](opts ...Option) *Store[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store[T]{
		partitions: make(map[Key]*Partition[T]),
		now:        o.now,
	}
	s.GetOrCreate(DefaultKey)
	return s
}

// GetOrCreate returns the partition for key, creating an empty one
// (length 0, never updated) on first access.
func (s *Store[T]) GetOrCreate(key Key) *Partition[T] {
	if p, ok := s.partitions[key]; ok {
		return p
	}
	p := &Partition[T]{Key: key}
	s.partitions[key] = p
	return p
}

// Get returns the partition for key without creating it.
func (s *Store[T]) Get(key Key) (*Partition[T], bool) {
	p, ok := s.partitions[key]
	return p, ok
}

// Replace resets the partition to n unset slots.
func (s *Store[T]) Replace(key Key, n int) {
	if n < 0 {
		n = 0
	}
	p := s.GetOrCreate(key)
	p.items = make([]T, n)
	p.set = make([]bool, n)
	p.filled = 0
	p.known = true
	s.touch(p)
}

// Merge writes values into consecutive slots starting at offset. Values
// falling outside the partition's length are dropped. It returns the number
// of slots written.
func (s *Store[T]) Merge(key Key, offset int, values []T) int {
	p := s.GetOrCreate(key)
	written := 0
	for i, v := range values {
		idx := offset + i
		if idx < 0 || idx >= len(p.items) {
			continue
		}
		if !p.set[idx] {
			p.set[idx] = true
			p.filled++
		}
		p.items[idx] = v
		written++
	}
	s.touch(p)
	return written
}

// Slice returns a copy of the items in [start, end), clamped to the
// partition's length. It returns ErrIncomplete if any slot in the range
// is unset.
func (s *Store[T]) Slice(key Key, start, end int) ([]T, error) {
	p, ok := s.partitions[key]
	if !ok {
		return []T{}, nil
	}
	start, end = p.clamp(start, end)
	if !p.complete(start, end) {
		return nil, ErrIncomplete
	}
	out := make([]T, end-start)
	copy(out, p.items[start:end])
	return out, nil
}

// Clear drops every item of the partition and forgets its total, as if it had
// never been fetched. The partition itself is kept.
func (s *Store[T]) Clear(key Key) {
	p, ok := s.partitions[key]
	if !ok {
		return
	}
	p.items = nil
	p.set = nil
	p.filled = 0
	p.known = false
	s.touch(p)
}

// Evict removes the given partitions. DefaultKey is ignored. It returns the
// number of partitions removed.
func (s *Store[T]) Evict(keys ...Key) int {
	removed := 0
	for _, key := range keys {
		if key == DefaultKey {
			continue
		}
		if _, ok := s.partitions[key]; ok {
			delete(s.partitions, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of partitions, including the default one.
func (s *Store[T]) Len() int {
	return len(s.partitions)
}

// Keys returns all partition keys in sorted order.
func (s *Store[T]) Keys() []Key {
	keys := make([]Key, 0, len(s.partitions))
	for key := range s.partitions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Oldest returns the keys of non-default partitions that have been updated at
// least once and are not excluded, least recently updated first.
func (s *Store[T]) Oldest(exclude func(Key) bool) []Key {
	candidates := make([]*Partition[T], 0, len(s.partitions))
	for key, p := range s.partitions {
		if key == DefaultKey || !p.Updated() {
			continue
		}
		if exclude != nil && exclude(key) {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].version < candidates[j].version
	})

	keys := make([]Key, len(candidates))
	for i, p := range candidates {
		keys[i] = p.Key
	}
	return keys
}

func (s *Store[T]) touch(p *Partition[T]) {
	s.seq++
	p.version = s.seq
	p.LastUpdated = s.now()
}
