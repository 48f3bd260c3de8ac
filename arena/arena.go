// Package arena implements a chained bump-ish allocator: a singly-linked
// list of arenaNodes, each wrapping its own freelist.List, drawn on
// demand from an upstream allocator (typically a heap.Heap). The
// Config/Stats/SubArena surface is built around freelist.List per node
// rather than a single bump offset, since a bare bump offset cannot
// support free/coalesce.
package arena

import (
	"fmt"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/moonsugar-systems/moonsugar/align"
	"github.com/moonsugar-systems/moonsugar/errs"
	"github.com/moonsugar-systems/moonsugar/freelist"
)

// Upstream is the allocator an Arena draws new nodes from. heap.Heap
// satisfies it directly; stack.Stack does not, since its Alloc takes an
// explicit alignment and it has no per-pointer Free.
type Upstream interface {
	Alloc(size uintptr) (unsafe.Pointer, uintptr, error)
	Free(ptr unsafe.Pointer, size uintptr) error
}

// Config configures an Arena, following the functional-options
// Config/Option pattern used throughout this module.
type Config struct {
	BaseSize uintptr
	Sticky   bool
	Logger   *logrus.Entry
}

// Option mutates a Config.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{BaseSize: 4096}
}

// WithSticky keeps emptied nodes around instead of releasing them to the
// upstream allocator, trading memory for avoiding repeated growth.
func WithSticky(sticky bool) Option {
	return func(c *Config) { c.Sticky = sticky }
}

// WithLogger attaches a structured logger.
func WithLogger(entry *logrus.Entry) Option {
	return func(c *Config) { c.Logger = entry }
}

type arenaNode struct {
	base          unsafe.Pointer
	totalSize     uintptr
	allocatedSize uintptr
	list          *freelist.List
	next          *arenaNode
}

func (n *arenaNode) owns(ptr unsafe.Pointer) bool {
	addr := uintptr(ptr)
	base := uintptr(n.base)

	return addr >= base && addr < base+n.totalSize
}

// Stats reports an Arena's current memory posture: node count and
// allocated/total bytes across all chained nodes.
type Stats struct {
	NodeCount       int
	TotalSize       uintptr
	AllocatedSize   uintptr
	AllocationCount uint64
}

// Arena chains nodes drawn from an upstream allocator. It is not
// internally synchronized; concurrent callers must wrap it in their own
// mutex, e.g. syncutil.Mutex.
type Arena struct {
	cfg      *Config
	upstream Upstream
	head     *arenaNode
	allocs   uint64
	log      *logrus.Entry
}

// New creates an Arena with no nodes; the first node is grown lazily on
// the first allocation.
func New(upstream Upstream, baseSize uintptr, opts ...Option) (*Arena, error) {
	if upstream == nil {
		return nil, errs.New("arena.New", errs.InvalidArgument, fmt.Errorf("upstream allocator must not be nil"))
	}

	cfg := defaultConfig()
	cfg.BaseSize = baseSize
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.BaseSize == 0 {
		return nil, errs.New("arena.New", errs.InvalidArgument, fmt.Errorf("base size must be greater than 0"))
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "arena")
	}

	return &Arena{cfg: cfg, upstream: upstream, log: log}, nil
}

func (a *Arena) lastNode() *arenaNode {
	n := a.head
	if n == nil {
		return nil
	}

	for n.next != nil {
		n = n.next
	}

	return n
}

// growNodeSize computes the size of the next node to append: at least
// double the previous node, at least eight times the failing request,
// all quantised to the base size.
func (a *Arena) growNodeSize(request uintptr) uintptr {
	last := a.lastNode()

	prior := a.cfg.BaseSize
	if last != nil {
		prior = last.totalSize
	}

	candidate := 8 * request
	if prior > candidate {
		candidate = prior
	}

	return 2 * align.Up(candidate, a.cfg.BaseSize)
}

func (a *Arena) appendNode(size uintptr) (*arenaNode, error) {
	size = align.Up(size, a.cfg.BaseSize)

	ptr, actual, err := a.upstream.Alloc(size)
	if err != nil {
		return nil, errs.New("arena.appendNode", errs.Memory, err)
	}

	n := &arenaNode{base: ptr, totalSize: actual, list: freelist.New(actual, freelist.NoopOracle)}

	if a.head == nil {
		a.head = n
	} else {
		a.lastNode().next = n
	}

	a.log.WithField("node_bytes", actual).Debug("arena grew a new node")

	return n, nil
}

// Alloc walks existing nodes for a best-fit chunk before growing the
// arena with a new node.
func (a *Arena) Alloc(size uintptr) (unsafe.Pointer, uintptr, error) {
	if size == 0 {
		return nil, 0, nil
	}

	for n := a.head; n != nil; n = n.next {
		if n.totalSize-n.allocatedSize < size {
			continue
		}

		offset, actual, ok, err := n.list.Alloc(size)
		if err != nil {
			return nil, 0, errs.New("arena.Alloc", errs.Memory, err)
		}

		if ok {
			n.allocatedSize += actual
			a.allocs++

			return unsafe.Add(n.base, offset), actual, nil
		}
	}

	n, err := a.appendNode(a.growNodeSize(size))
	if err != nil {
		return nil, 0, err
	}

	offset, actual, ok, err := n.list.Alloc(size)
	if err != nil {
		return nil, 0, errs.New("arena.Alloc", errs.Memory, err)
	}

	if !ok {
		return nil, 0, errs.New("arena.Alloc", errs.Memory, fmt.Errorf("freshly grown node of %d bytes does not fit request of %d bytes", n.totalSize, size))
	}

	n.allocatedSize += actual
	a.allocs++

	return unsafe.Add(n.base, offset), actual, nil
}

func (a *Arena) findOwner(ptr unsafe.Pointer) (prev, owner *arenaNode) {
	var p *arenaNode

	for n := a.head; n != nil; n = n.next {
		if n.owns(ptr) {
			return p, n
		}

		p = n
	}

	return nil, nil
}

// Free locates the owning node by pointer-range containment, frees the
// chunk in that node's free list, and releases the node to the upstream
// allocator if it becomes empty and the arena is not sticky.
func (a *Arena) Free(ptr unsafe.Pointer, size uintptr) error {
	if ptr == nil || size == 0 {
		return nil
	}

	prev, n := a.findOwner(ptr)
	if n == nil {
		return errs.New("arena.Free", errs.InvalidArgument, fmt.Errorf("pointer does not belong to this arena"))
	}

	offset := uintptr(ptr) - uintptr(n.base)
	if err := n.list.Free(offset, size); err != nil {
		return errs.New("arena.Free", errs.InvalidArgument, err)
	}

	n.allocatedSize -= size

	if n.allocatedSize == 0 && !a.cfg.Sticky {
		if err := a.upstream.Free(n.base, n.totalSize); err != nil {
			return errs.New("arena.Free", errs.Memory, err)
		}

		if prev != nil {
			prev.next = n.next
		} else {
			a.head = n.next
		}
	}

	return nil
}

// Realloc resizes an existing allocation in place where possible: if
// the request still fits within the chunk's actual (post-split) size,
// the same pointer is returned; otherwise a fresh chunk is allocated,
// the old bytes are copied, and the old chunk is freed.
func (a *Arena) Realloc(ptr unsafe.Pointer, oldActual, newSize uintptr) (unsafe.Pointer, uintptr, error) {
	if ptr == nil {
		return a.Alloc(newSize)
	}

	if newSize == 0 {
		return nil, 0, a.Free(ptr, oldActual)
	}

	if newSize <= oldActual {
		return ptr, oldActual, nil
	}

	newPtr, newActual, err := a.Alloc(newSize)
	if err != nil {
		return nil, 0, err
	}

	copySize := oldActual
	if newSize < copySize {
		copySize = newSize
	}

	src := unsafe.Slice((*byte)(ptr), copySize)
	dst := unsafe.Slice((*byte)(newPtr), copySize)
	copy(dst, src)

	if err := a.Free(ptr, oldActual); err != nil {
		return nil, 0, err
	}

	return newPtr, newActual, nil
}

// Owns reports whether ptr falls inside any node of this arena.
func (a *Arena) Owns(ptr unsafe.Pointer) bool {
	_, n := a.findOwner(ptr)

	return n != nil
}

// Clear resets every node. Sticky nodes keep their backing memory and
// are reset to a single full-size free chunk; non-sticky nodes are
// released to the upstream allocator and unlinked.
func (a *Arena) Clear() error {
	n := a.head
	a.head = nil
	a.allocs = 0

	for n != nil {
		next := n.next

		if a.cfg.Sticky {
			n.list.Reset(n.totalSize)
			n.allocatedSize = 0
			n.next = nil

			if a.head == nil {
				a.head = n
			} else {
				a.lastNode().next = n
			}
		} else if err := a.upstream.Free(n.base, n.totalSize); err != nil {
			return errs.New("arena.Clear", errs.Memory, err)
		}

		n = next
	}

	return nil
}

// SubArena creates a nested Arena whose own upstream is this arena. Like
// New, it allocates no node up front; its first node is drawn from this
// arena on its first allocation.
func (a *Arena) SubArena(size uintptr, opts ...Option) (*Arena, error) {
	return New(a, size, opts...)
}

// Stats reports the arena's current memory posture across all nodes.
func (a *Arena) Stats() Stats {
	var s Stats

	s.AllocationCount = a.allocs

	for n := a.head; n != nil; n = n.next {
		s.NodeCount++
		s.TotalSize += n.totalSize
		s.AllocatedSize += n.allocatedSize
	}

	return s
}
