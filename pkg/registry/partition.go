package registry

import "time"

// Partition is the cached item sequence for one key.
type Partition[T any] struct {
	// Key is the partition's fingerprint or DefaultKey.
	Key Key

	// LastUpdated is when the partition was last replaced, merged or cleared.
	// Zero means it was created but never written.
	LastUpdated time.Time

	items   []T
	set     []bool
	filled  int
	known   bool
	version uint64
}

// Len returns the logical length, i.e. the last observed total.
func (p *Partition[T]) Len() int {
	return len(p.items)
}

// Known reports whether a total has been observed since creation or the last Clear.
func (p *Partition[T]) Known() bool {
	return p.known
}

// Updated reports whether the partition has ever been written.
func (p *Partition[T]) Updated() bool {
	return !p.LastUpdated.IsZero()
}

// Filled returns the number of set slots.
func (p *Partition[T]) Filled() int {
	return p.filled
}

// IsSet reports whether slot i holds an item.
func (p *Partition[T]) IsSet(i int) bool {
	return i >= 0 && i < len(p.set) && p.set[i]
}

// Complete reports whether every slot in [start, end), clamped to the
// partition's length, is set.
func (p *Partition[T]) Complete(start, end int) bool {
	start, end = p.clamp(start, end)
	return p.complete(start, end)
}

func (p *Partition[T]) complete(start, end int) bool {
	if p.filled == len(p.set) {
		return true
	}
	for i := start; i < end; i++ {
		if !p.set[i] {
			return false
		}
	}
	return true
}

func (p *Partition[T]) clamp(start, end int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > len(p.items) {
		end = len(p.items)
	}
	if start > end {
		start = end
	}
	return start, end
}
