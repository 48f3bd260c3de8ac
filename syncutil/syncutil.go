// Package syncutil provides three lock primitives: a non-reentrant
// Mutex, a cache-line-padded Spinlock, and a writer-preferred RWMutex.
// Heap, Arena, and Stack are not internally synchronized; callers wrap
// them in one of these. The cache-line padding convention is
// generalized from a single lock-free queue's padding layout into
// standalone lock types.
package syncutil

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// cacheLinePad reserves the rest of a 64-byte cache line after a single
// word-sized field, preventing false sharing between a lock and its
// neighbours in an enclosing struct.
type cacheLinePad [64 - 8]byte

// Mutex is a non-reentrant mutual-exclusion lock. It is a thin wrapper
// over sync.Mutex that adds TryLock for parity with Spinlock and
// RWMutex's try variants.
type Mutex struct {
	mu sync.Mutex
}

// Lock blocks until the mutex is held.
func (m *Mutex) Lock() { m.mu.Lock() }

// Unlock releases the mutex. Unlocking an unlocked Mutex panics, same
// as sync.Mutex.
func (m *Mutex) Unlock() { m.mu.Unlock() }

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool { return m.mu.TryLock() }

// Spinlock is a cache-line-aligned atomic flag. Failed acquisition
// attempts spin with a runtime.Gosched backoff rather than blocking in
// the OS scheduler.
type Spinlock struct {
	held atomic.Bool
	_    cacheLinePad
}

// Lock spins until the flag can be claimed.
func (s *Spinlock) Lock() {
	for !s.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// TryLock attempts to claim the flag once, without spinning.
func (s *Spinlock) TryLock() bool {
	return s.held.CompareAndSwap(false, true)
}

// Unlock releases the flag.
func (s *Spinlock) Unlock() {
	s.held.Store(false)
}

// RWMutex is a writer-preferred reader-writer lock: a waiting-writers
// counter is incremented before a writer attempts to acquire, and
// readers check it to back off, preventing writer starvation under a
// steady stream of readers.
type RWMutex struct {
	mu             sync.Mutex
	writerActive   bool
	waitingWriters atomic.Int32
	readerCount    atomic.Int32
	writerDone     sync.Cond
	allClear       sync.Cond
}

func (rw *RWMutex) init() {
	if rw.writerDone.L == nil {
		rw.writerDone.L = &rw.mu
	}

	if rw.allClear.L == nil {
		rw.allClear.L = &rw.mu
	}
}

// Lock acquires the lock for writing, blocking new readers as soon as a
// writer starts waiting.
func (rw *RWMutex) Lock() {
	rw.mu.Lock()
	rw.init()
	rw.waitingWriters.Add(1)

	for rw.writerActive || rw.readerCount.Load() > 0 {
		rw.allClear.Wait()
	}

	rw.waitingWriters.Add(-1)
	rw.writerActive = true
	rw.mu.Unlock()
}

// Unlock releases a write lock.
func (rw *RWMutex) Unlock() {
	rw.mu.Lock()
	rw.writerActive = false
	rw.mu.Unlock()
	rw.allClear.Broadcast()
	rw.writerDone.Broadcast()
}

// TryLock attempts to acquire the write lock without blocking.
func (rw *RWMutex) TryLock() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.init()

	if rw.writerActive || rw.readerCount.Load() > 0 {
		return false
	}

	rw.writerActive = true

	return true
}

// RLock acquires the lock for reading. A reader backs off while any
// writer holds the lock or is waiting, implementing writer preference.
func (rw *RWMutex) RLock() {
	rw.mu.Lock()
	rw.init()

	for rw.writerActive || rw.waitingWriters.Load() > 0 {
		rw.writerDone.Wait()
	}

	rw.readerCount.Add(1)
	rw.mu.Unlock()
}

// RUnlock releases a read lock.
func (rw *RWMutex) RUnlock() {
	if rw.readerCount.Add(-1) == 0 {
		rw.mu.Lock()
		rw.allClear.Broadcast()
		rw.mu.Unlock()
	}
}

// TryRLock attempts to acquire a read lock without blocking.
func (rw *RWMutex) TryRLock() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.init()

	if rw.writerActive || rw.waitingWriters.Load() > 0 {
		return false
	}

	rw.readerCount.Add(1)

	return true
}
