// Package stack implements a lock-free bump allocator over a reserved
// virtual range with lazy, high-water commit. Its naming follows a
// CAS-wrapper-around-sync/atomic idiom; the bump/commit algorithm
// itself is new.
package stack

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/moonsugar-systems/moonsugar/align"
	"github.com/moonsugar-systems/moonsugar/errs"
	"github.com/moonsugar-systems/moonsugar/osmem"
)

// DefaultAlignment is the alignment a bump allocation gets "for free",
// without inflating the request to carve out room to align up within.
const DefaultAlignment = 16

// DefaultDecommitThreshold mirrors heap.DefaultDecommitThreshold: the
// hysteresis band kept committed across a Clear.
const DefaultDecommitThreshold = 4 * 1024 * 1024

// Config configures a Stack.
type Config struct {
	CommitPageSize    uintptr
	DecommitThreshold uintptr
	DefaultAlignment  uintptr
	Logger            *logrus.Entry
}

// Option mutates a Config.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		CommitPageSize:    osmem.PageSize(),
		DecommitThreshold: DefaultDecommitThreshold,
		DefaultAlignment:  DefaultAlignment,
	}
}

// WithCommitPageSize overrides the commit granularity.
func WithCommitPageSize(size uintptr) Option {
	return func(c *Config) { c.CommitPageSize = size }
}

// WithDecommitThreshold overrides the hysteresis band kept committed
// across a Clear.
func WithDecommitThreshold(bytes uintptr) Option {
	return func(c *Config) { c.DecommitThreshold = bytes }
}

// WithDefaultAlignment overrides the alignment bump allocations satisfy
// without inflating the request size.
func WithDefaultAlignment(alignment uintptr) Option {
	return func(c *Config) { c.DefaultAlignment = alignment }
}

// WithLogger attaches a structured logger.
func WithLogger(entry *logrus.Entry) Option {
	return func(c *Config) { c.Logger = entry }
}

// Stats reports a Stack's current memory posture.
type Stats struct {
	ReservedBytes  uintptr
	CommittedBytes uintptr
	UsedBytes      uintptr
}

// Stack is a bump allocator over a reserved range. Allocate is
// lock-free and safe for concurrent callers; Clear is not - it is only
// safe at a quiescence point the caller defines.
type Stack struct {
	cfg          *Config
	base         unsafe.Pointer
	reservedSize uintptr
	top          atomic.Uintptr
	committedTop atomic.Uintptr
	log          *logrus.Entry
}

// New reserves reservedSize bytes of address space for a Stack.
func New(reservedSize uintptr, opts ...Option) (*Stack, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if !align.IsPowerOfTwo(cfg.CommitPageSize) {
		return nil, errs.New("stack.New", errs.InvalidArgument, fmt.Errorf("commit page size %d is not a power of two", cfg.CommitPageSize))
	}

	if reservedSize == 0 {
		return nil, errs.New("stack.New", errs.InvalidArgument, fmt.Errorf("reserved size must be greater than 0"))
	}

	region, err := osmem.Reserve(reservedSize)
	if err != nil {
		return nil, errs.New("stack.New", errs.Memory, err)
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "stack")
	}

	return &Stack{
		cfg:          cfg,
		base:         unsafe.Pointer(region.Addr), //nolint:govet // osmem-owned address, not GC memory
		reservedSize: region.Size,
		log:          log,
	}, nil
}

// Alloc bumps the stack top by size (inflated to carve out alignment
// slack when alignment exceeds the configured default), committing
// pages on demand, and returns a pointer satisfying alignment.
func (s *Stack) Alloc(size, alignment uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, nil
	}

	if alignment == 0 {
		alignment = s.cfg.DefaultAlignment
	}

	request := size
	inflate := alignment > s.cfg.DefaultAlignment
	if inflate {
		request = size + alignment - 1
	}

	// Keep top a multiple of the default alignment so the next in-place
	// bump is aligned too.
	request = align.Up(request, s.cfg.DefaultAlignment)

	returnedTop := s.top.Add(request) - request
	end := returnedTop + request

	if end > s.reservedSize {
		return nil, errs.New("stack.Alloc", errs.Memory, fmt.Errorf("stack exhausted: need %d bytes beyond reserved %d", end, s.reservedSize))
	}

	if err := s.ensureCommitted(end); err != nil {
		return nil, err
	}

	raw := unsafe.Add(s.base, returnedTop)
	if !inflate {
		return raw, nil
	}

	aligned := align.Up(uintptr(raw), alignment)

	return unsafe.Pointer(aligned), nil
}

func (s *Stack) ensureCommitted(end uintptr) error {
	current := s.committedTop.Load()
	if end <= current {
		return nil
	}

	target := align.Up(end, s.cfg.CommitPageSize)
	if target > s.reservedSize {
		target = s.reservedSize
	}

	delta := target - current
	addr := uintptr(s.base) + current

	if err := osmem.Commit(addr, delta); err != nil {
		return fmt.Errorf("stack: commit %d bytes at offset %d: %w", delta, current, err)
	}

	// Another thread may have already committed this far or further;
	// losing the CAS just means we redundantly committed pages that
	// are already backed, which is harmless.
	s.committedTop.CompareAndSwap(current, target)

	return nil
}

// Clear resets the bump pointer to the base, decommitting the
// committed tail beyond the hysteresis threshold. It is racy with
// concurrent Alloc calls; callers must only invoke it at a point where
// no other goroutine is allocating from this Stack.
func (s *Stack) Clear() error {
	s.top.Store(0)
	prior := s.committedTop.Swap(0)

	if prior <= s.cfg.DecommitThreshold {
		return nil
	}

	addr := uintptr(s.base) + s.cfg.DecommitThreshold
	size := prior - s.cfg.DecommitThreshold

	if err := osmem.Decommit(addr, size); err != nil {
		return errs.New("stack.Clear", errs.Memory, err)
	}

	s.log.WithField("decommitted_bytes", size).Debug("stack cleared and decommitted trailing pages")

	return nil
}

// Owns reports whether ptr falls inside this stack's reserved range.
func (s *Stack) Owns(ptr unsafe.Pointer) bool {
	addr := uintptr(ptr)
	base := uintptr(s.base)

	return addr >= base && addr < base+s.reservedSize
}

// Stats reports the stack's current memory posture. Top stays past
// ReservedBytes after a failed allocation left the bump pointer past
// capacity, until the next Clear; UsedBytes is clamped to ReservedBytes.
func (s *Stack) Stats() Stats {
	used := s.top.Load()
	if used > s.reservedSize {
		used = s.reservedSize
	}

	return Stats{
		ReservedBytes:  s.reservedSize,
		CommittedBytes: s.committedTop.Load(),
		UsedBytes:      used,
	}
}

// Close releases the stack's reservation back to the OS.
func (s *Stack) Close() error {
	if err := osmem.Release(uintptr(s.base), s.reservedSize); err != nil {
		return errs.New("stack.Close", errs.Memory, err)
	}

	return nil
}
