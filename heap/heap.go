// Package heap implements a page-committing heap built on freelist: a
// large reserved virtual range whose pages are committed lazily as the
// free list touches them, and decommitted past a hysteresis threshold
// once the trailing free region grows large.
package heap

import (
	"fmt"
	"unsafe"

	"github.com/pbnjay/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/moonsugar-systems/moonsugar/align"
	"github.com/moonsugar-systems/moonsugar/errs"
	"github.com/moonsugar-systems/moonsugar/freelist"
	"github.com/moonsugar-systems/moonsugar/osmem"
)

// DefaultDecommitThreshold is the hysteresis band applied on Free: once a
// trailing free chunk exceeds this many bytes, the excess is decommitted.
const DefaultDecommitThreshold = 4 * 1024 * 1024

// DefaultReserveSizeFraction is the share of detected system RAM New
// reserves for a caller that passes reservedSize zero.
const DefaultReserveSizeFraction = 8

// DefaultReserveSize returns one eighth of the system's total RAM,
// rounded down to a page multiple, for callers that don't know their
// own working-set size up front. memory.TotalMemory returns 0 on
// platforms it can't query; callers still get a usable floor.
func DefaultReserveSize() uintptr {
	total := memory.TotalMemory()
	if total == 0 {
		total = 256 * 1024 * 1024
	}

	size := uintptr(total / DefaultReserveSizeFraction)

	return align.Down(size, osmem.PageSize())
}

// Config configures a Heap, following the functional-options
// Config/Option pattern used throughout this module.
type Config struct {
	ReservedSize      uintptr
	CommitPageSize    uintptr
	DecommitThreshold uintptr
	Logger            *logrus.Entry
}

// Option mutates a Config.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		CommitPageSize:    osmem.PageSize(),
		DecommitThreshold: DefaultDecommitThreshold,
	}
}

// WithCommitPageSize overrides the commit granularity; must be a power
// of two multiple of the OS page size.
func WithCommitPageSize(size uintptr) Option {
	return func(c *Config) { c.CommitPageSize = size }
}

// WithDecommitThreshold overrides the trailing-decommit hysteresis band.
func WithDecommitThreshold(bytes uintptr) Option {
	return func(c *Config) { c.DecommitThreshold = bytes }
}

// WithLogger attaches a structured logger; default is a package-scoped
// logrus.Entry.
func WithLogger(entry *logrus.Entry) Option {
	return func(c *Config) { c.Logger = entry }
}

// Stats reports a Heap's current memory posture.
type Stats struct {
	ReservedBytes  uintptr
	CommittedBytes uintptr
	FreeBytes      uintptr
	LiveBytes      uintptr
}

// Heap is a large reserved range committed lazily through a FreeList.
// It is not internally synchronized: concurrent callers must wrap a
// Heap in their own mutex, e.g. syncutil.Mutex.
type Heap struct {
	cfg           *Config
	base          unsafe.Pointer
	reservedSize  uintptr
	committedSize uintptr
	list          *freelist.List
	log           *logrus.Entry
}

// New reserves reservedSize bytes of address space and returns a Heap
// with nothing committed yet.
func New(reservedSize uintptr, opts ...Option) (*Heap, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if reservedSize == 0 {
		reservedSize = DefaultReserveSize()
	}

	cfg.ReservedSize = reservedSize

	if !align.IsPowerOfTwo(cfg.CommitPageSize) {
		return nil, errs.New("heap.New", errs.InvalidArgument, fmt.Errorf("commit page size %d is not a power of two", cfg.CommitPageSize))
	}

	if reservedSize == 0 || reservedSize%cfg.CommitPageSize != 0 {
		return nil, errs.New("heap.New", errs.InvalidArgument, fmt.Errorf("reserved size %d must be a nonzero multiple of commit page size %d", reservedSize, cfg.CommitPageSize))
	}

	region, err := osmem.Reserve(reservedSize)
	if err != nil {
		return nil, errs.New("heap.New", errs.Memory, err)
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "heap")
	}

	h := &Heap{
		cfg:          cfg,
		base:         unsafe.Pointer(region.Addr), //nolint:govet // osmem-owned address, not GC memory
		reservedSize: region.Size,
		log:          log,
	}
	h.list = freelist.New(region.Size, h)

	log.WithField("reserved_bytes", region.Size).Debug("heap constructed")

	return h, nil
}

// BeforeNodeCreate implements freelist.Oracle: ensure committed memory
// covers a free node about to be recorded.
func (h *Heap) BeforeNodeCreate(offset, size uintptr) error {
	return h.ensureCommitted(offset, size)
}

// BeforeAllocFromNode implements freelist.Oracle: ensure committed
// memory covers bytes about to be handed to a caller.
func (h *Heap) BeforeAllocFromNode(offset, size uintptr) error {
	return h.ensureCommitted(offset, size)
}

func (h *Heap) ensureCommitted(offset, size uintptr) error {
	need := offset + size
	if need <= h.committedSize {
		return nil
	}

	target := align.Up(need, h.cfg.CommitPageSize)
	if target > h.reservedSize {
		target = h.reservedSize
	}

	delta := target - h.committedSize
	if delta == 0 {
		return nil
	}

	addr := uintptr(h.base) + h.committedSize
	if err := osmem.Commit(addr, delta); err != nil {
		// A commit failure inside an active allocation path is fatal to
		// that operation; there is no partial state to roll back since
		// the FreeList has not written anything yet.
		return fmt.Errorf("commit %d bytes at offset %d: %w", delta, h.committedSize, err)
	}

	h.committedSize = target
	h.log.WithFields(logrus.Fields{"committed_bytes": h.committedSize}).Debug("heap committed pages")

	return nil
}

// Alloc returns size bytes from the heap. The returned length may
// exceed size when the consumed chunk could not be split.
func (h *Heap) Alloc(size uintptr) (unsafe.Pointer, uintptr, error) {
	if size == 0 {
		return nil, 0, nil
	}

	offset, actual, ok, err := h.list.Alloc(size)
	if err != nil {
		return nil, 0, errs.New("heap.Alloc", errs.Memory, err)
	}

	if !ok {
		return nil, 0, errs.New("heap.Alloc", errs.Memory, fmt.Errorf("no free chunk fits %d bytes", size))
	}

	return unsafe.Add(h.base, offset), actual, nil
}

// Free returns a chunk previously returned by Alloc, with its actual
// (post-split) size.
func (h *Heap) Free(ptr unsafe.Pointer, size uintptr) error {
	if ptr == nil || size == 0 {
		return nil
	}

	offset := uintptr(ptr) - uintptr(h.base)

	if err := h.list.Free(offset, size); err != nil {
		return errs.New("heap.Free", errs.InvalidArgument, err)
	}

	h.decommitTrailing()

	return nil
}

// decommitTrailing pulls committed memory back toward the live
// high-water mark whenever a free reveals enough trailing slack. When
// the tail free chunk (the one with no successor) extends to the end of
// the reserved range, nothing live lies past it and tail.Offset is the
// live high-water mark; when it does not, nothing is decommitted. Once
// such a tail exceeds the hysteresis threshold, committed-top is pulled
// back to tail.Offset+threshold, decommitting whatever committed memory
// now falls beyond that boundary.
func (h *Heap) decommitTrailing() {
	tail, ok := h.list.Tail()
	if !ok {
		return
	}

	if tail.Offset+tail.Size != h.reservedSize {
		return
	}

	if tail.Size <= h.cfg.DecommitThreshold {
		return
	}

	target := align.Up(tail.Offset+h.cfg.DecommitThreshold, h.cfg.CommitPageSize)
	if target > h.reservedSize {
		target = h.reservedSize
	}

	if target >= h.committedSize {
		return
	}

	delta := h.committedSize - target
	addr := uintptr(h.base) + target

	if err := osmem.Decommit(addr, delta); err != nil {
		h.log.WithError(err).Warn("failed to decommit trailing heap memory")
		return
	}

	h.committedSize = target
	h.log.WithField("committed_bytes", h.committedSize).Debug("heap decommitted trailing pages")
}

// Owns reports whether ptr falls inside this heap's reserved range.
func (h *Heap) Owns(ptr unsafe.Pointer) bool {
	addr := uintptr(ptr)
	base := uintptr(h.base)

	return addr >= base && addr < base+h.reservedSize
}

// Stats reports the heap's current memory posture. The free list is
// seeded over the whole reservation, not just the committed prefix, so
// FreeBytes tracks reservedSize rather than committedSize and live
// bytes must be derived the same way.
func (h *Heap) Stats() Stats {
	free := h.list.TotalFree()

	return Stats{
		ReservedBytes:  h.reservedSize,
		CommittedBytes: h.committedSize,
		FreeBytes:      free,
		LiveBytes:      h.reservedSize - free,
	}
}

// Close releases the heap's reservation back to the OS. Destroying a
// heap with outstanding (live) allocations is a warning, not an error;
// Close still releases the reservation.
func (h *Heap) Close() error {
	stats := h.Stats()
	if stats.LiveBytes > 0 {
		h.log.WithField("live_bytes", stats.LiveBytes).Warn("heap closed with outstanding allocations")
	}

	if err := osmem.Release(uintptr(h.base), h.reservedSize); err != nil {
		return errs.New("heap.Close", errs.Memory, err)
	}

	return nil
}

// Metrics returns Prometheus collectors reporting this heap's reserved,
// committed, and live byte counts. Callers register them against
// their own registry.
func (h *Heap) Metrics(namespace string) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "heap",
			Name:      "reserved_bytes",
		}, func() float64 { return float64(h.Stats().ReservedBytes) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "heap",
			Name:      "committed_bytes",
		}, func() float64 { return float64(h.Stats().CommittedBytes) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "heap",
			Name:      "live_bytes",
		}, func() float64 { return float64(h.Stats().LiveBytes) }),
	}
}
