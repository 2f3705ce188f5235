// internal/store/ring.go
package store

// Ring is a bounded FIFO. Adding to a full ring evicts the oldest item first.
// Storage grows on demand up to the capacity, so an idle channel costs little.
// Ring is not safe for concurrent use; ChannelStore and Monitor guard their rings.
type Ring[T any] struct {
	items    []T
	head     int // index of the oldest item, always 0 until the ring is full
	size     int
	capacity int
}

// NewRing creates a ring holding at most capacity items (minimum 1)
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{capacity: capacity}
}

// Add appends item at the tail. When the ring is full the oldest item is
// removed first and returned with evicted set to true.
func (r *Ring[T]) Add(item T) (removed T, evicted bool) {
	if r.size < r.capacity {
		r.items = append(r.items, item)
		r.size++
		return removed, false
	}

	removed = r.items[r.head]
	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	return removed, true
}

// Len returns the number of stored items
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap returns the maximum number of items
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// First returns the oldest item
func (r *Ring[T]) First() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[r.head], true
}

// Last returns the newest item
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[(r.head+r.size-1)%len(r.items)], true
}

// Items copies the stored items out, oldest first
func (r *Ring[T]) Items() []T {
	return r.Tail(r.size)
}

// Tail copies out the newest n items, oldest first
func (r *Ring[T]) Tail(n int) []T {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return []T{}
	}

	out := make([]T, n)
	capacity := len(r.items)
	start := (r.head + r.size - n) % capacity
	first := copy(out, r.items[start:min(start+n, capacity)])
	copy(out[first:], r.items[:n-first])
	return out
}

// Clear removes all items. Capacity is kept.
func (r *Ring[T]) Clear() {
	clear(r.items)
	r.items = r.items[:0]
	r.head = 0
	r.size = 0
}
