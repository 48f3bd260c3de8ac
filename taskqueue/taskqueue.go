// Package taskqueue wraps a ring.Ring[*Task] under a reader-writer
// lock. Dequeue takes the write lock rather than a read lock: a ring's
// pop mutates shared cursor state exactly like a push does, so
// admitting concurrent "readers" into Dequeue would race on
// writeIndex/readIndex the same way concurrent Enqueues would.
package taskqueue

import (
	"github.com/moonsugar-systems/moonsugar/ring"
	"github.com/moonsugar-systems/moonsugar/syncutil"
)

// Queue wraps a power-of-two ring.Ring[*T] with a writer-preferred
// RWMutex, giving it a multi-reader-multi-writer contract even though
// every mutating operation takes the write side of the lock; only Len
// takes the read side.
type Queue[T any] struct {
	mu   syncutil.RWMutex
	ring *ring.Ring[*T]
}

// New creates a Queue with the given power-of-two capacity.
func New[T any](capacity uintptr) (*Queue[T], error) {
	r, err := ring.New[*T](capacity)
	if err != nil {
		return nil, err
	}

	return &Queue[T]{ring: r}, nil
}

// Enqueue pushes one task. ok is false if the queue was full.
func (q *Queue[T]) Enqueue(task *T) (ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.ring.Enqueue(task)
}

// EnqueueMany commits all of tasks or none of them: if the ring cannot
// hold every task, nothing is enqueued.
func (q *Queue[T]) EnqueueMany(tasks []*T) (ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ring.Capacity()-q.ring.Len() < uintptr(len(tasks)) {
		return false
	}

	for _, task := range tasks {
		q.ring.Enqueue(task)
	}

	return true
}

// Dequeue pops one task. ok is false if the queue was empty.
func (q *Queue[T]) Dequeue() (task *T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.ring.Dequeue()
}

// Len reports the number of queued tasks. It takes the read side of
// the lock since it does not mutate ring cursors.
func (q *Queue[T]) Len() uintptr {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.ring.Len()
}
