// Package allocator binds heap.Heap, arena.Arena, and any other raw
// chunk provider behind a common ABI: allocate, reallocate, deallocate,
// plus a Header immediately preceding every returned pointer. Modeled
// on an Allocator interface plus alignUp helper pattern, generalized
// into a small consumer-defined Backend interface instead of an enum of
// concrete allocator kinds.
package allocator

import (
	"fmt"
	"unsafe"

	"github.com/moonsugar-systems/moonsugar/align"
	"github.com/moonsugar-systems/moonsugar/errs"
)

// DefaultAlignment is the platform minimum alignment assumed when a
// caller passes zero.
const DefaultAlignment = 8

// headerSize is sizeof(Header): an 8-byte size field followed by two
// 4-byte fields, 16 bytes total with no implicit padding.
const headerSize = unsafe.Sizeof(Header{})

// Header immediately precedes every pointer an Allocator returns.
// user_ptr - Padding - sizeof(Header) recovers the raw chunk start a
// Backend.Free call needs.
type Header struct {
	Size      uint64
	Padding   uint32
	Alignment uint32
}

// Backend is the raw chunk provider an Allocator wraps. heap.Heap and
// arena.Arena both satisfy it; stack.Stack does not, since a bump stack
// has no per-pointer Free.
type Backend interface {
	Alloc(size uintptr) (unsafe.Pointer, uintptr, error)
	Free(ptr unsafe.Pointer, size uintptr) error
}

// Allocator is a value type cheaply copied by callers: it holds nothing
// but a reference to its Backend.
type Allocator struct {
	backend Backend
}

// New wraps backend in the Header-carrying Allocator ABI.
func New(backend Backend) Allocator {
	return Allocator{backend: backend}
}

// Allocate returns a pointer to at least size bytes satisfying
// alignment (rounded up to DefaultAlignment if zero). Allocate(0)
// returns nil, nil.
func (a Allocator) Allocate(size, alignment uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, nil
	}

	if alignment == 0 {
		alignment = DefaultAlignment
	}

	if !align.IsPowerOfTwo(alignment) {
		return nil, errs.New("allocator.Allocate", errs.InvalidArgument, fmt.Errorf("alignment %d is not a power of two", alignment))
	}

	request := align.Up(size+headerSize+alignment-1, alignment)

	raw, actual, err := a.backend.Alloc(request)
	if err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, nil
	}

	userAddr := align.Up(uintptr(raw)+headerSize, alignment)
	padding := userAddr - (uintptr(raw) + headerSize)
	usable := actual - headerSize - padding

	hdr := (*Header)(unsafe.Pointer(userAddr - headerSize))
	hdr.Size = uint64(usable)
	hdr.Padding = uint32(padding)
	hdr.Alignment = uint32(alignment)

	return unsafe.Pointer(userAddr), nil
}

func headerOf(userPtr unsafe.Pointer) *Header {
	return (*Header)(unsafe.Add(userPtr, -int(headerSize)))
}

func rawChunkStart(userPtr unsafe.Pointer, hdr *Header) (unsafe.Pointer, uintptr) {
	raw := uintptr(userPtr) - headerSize - uintptr(hdr.Padding)
	total := uintptr(hdr.Size) + headerSize + uintptr(hdr.Padding)

	return unsafe.Pointer(raw), total
}

// Deallocate releases a pointer previously returned by Allocate or
// Reallocate. Deallocate(nil) is a no-op.
func (a Allocator) Deallocate(userPtr unsafe.Pointer) error {
	if userPtr == nil {
		return nil
	}

	hdr := headerOf(userPtr)
	raw, total := rawChunkStart(userPtr, hdr)

	return a.backend.Free(raw, total)
}

// Reallocate preserves the original alignment constraint. If newSize
// fits within the header's recorded usable size, the same
// pointer is returned; otherwise a fresh chunk is allocated, the old
// bytes are copied, and the old chunk is freed. Reallocate(ptr, 0)
// deallocates and returns nil, nil.
func (a Allocator) Reallocate(userPtr unsafe.Pointer, newSize uintptr) (unsafe.Pointer, error) {
	if userPtr == nil {
		return a.Allocate(newSize, DefaultAlignment)
	}

	if newSize == 0 {
		return nil, a.Deallocate(userPtr)
	}

	hdr := headerOf(userPtr)
	if uint64(newSize) <= hdr.Size {
		return userPtr, nil
	}

	newPtr, err := a.Allocate(newSize, uintptr(hdr.Alignment))
	if err != nil {
		return nil, err
	}

	copySize := uintptr(hdr.Size)
	if newSize < copySize {
		copySize = newSize
	}

	src := unsafe.Slice((*byte)(userPtr), copySize)
	dst := unsafe.Slice((*byte)(newPtr), copySize)
	copy(dst, src)

	if err := a.Deallocate(userPtr); err != nil {
		return nil, err
	}

	return newPtr, nil
}
