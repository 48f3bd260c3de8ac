// Package ring implements a fixed-capacity, power-of-two ring buffer of
// generic items. Enqueue/Dequeue are deliberately not thread-safe;
// taskqueue.Queue wraps a Ring under a reader-writer lock to provide
// that. The slot-count and power-of-two-capacity shape follows a
// lock-free MPMC queue's layout, though the synchronization strategy
// itself is not reused: this Ring is meant to be externally
// synchronized with an RWMutex, not to implement its own lock-free cell
// protocol.
package ring

import "fmt"

// Ring is a fixed-capacity circular buffer over a single fixed item
// type. It tracks separate read and write cursors plus a live count.
type Ring[T any] struct {
	items      []T
	capacity   uintptr
	mask       uintptr
	writeIndex uintptr
	readIndex  uintptr
	count      uintptr
}

// New creates a Ring of the given capacity, which must be a non-zero
// power of two.
func New[T any](capacity uintptr) (*Ring[T], error) {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring: capacity %d must be a non-zero power of two", capacity)
	}

	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		mask:     capacity - 1,
	}, nil
}

// Capacity returns the ring's fixed capacity.
func (r *Ring[T]) Capacity() uintptr { return r.capacity }

// Len returns the number of items currently queued.
func (r *Ring[T]) Len() uintptr { return r.count }

// Full reports whether the ring has no free slots.
func (r *Ring[T]) Full() bool { return r.count == r.capacity }

// Empty reports whether the ring has no queued items.
func (r *Ring[T]) Empty() bool { return r.count == 0 }

// Enqueue writes item to the next write slot. ok is false if the ring
// is full.
func (r *Ring[T]) Enqueue(item T) (ok bool) {
	if r.Full() {
		return false
	}

	r.items[r.writeIndex] = item
	r.writeIndex = (r.writeIndex + 1) & r.mask
	r.count++

	return true
}

// Dequeue removes and returns the next read slot. ok is false if the
// ring is empty.
func (r *Ring[T]) Dequeue() (item T, ok bool) {
	if r.Empty() {
		var zero T

		return zero, false
	}

	item = r.items[r.readIndex]

	var zero T
	r.items[r.readIndex] = zero

	r.readIndex = (r.readIndex + 1) & r.mask
	r.count--

	return item, true
}
