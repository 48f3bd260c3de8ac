package heap

import (
	"testing"
	"unsafe"

	"github.com/moonsugar-systems/moonsugar/osmem"
)

func TestAllocWritesAndFrees(t *testing.T) {
	h, err := New(osmemPageSizeMultiple(t, 64), WithCommitPageSize(osmemPageSize(t)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer h.Close()

	ptr, actual, err := h.Alloc(1023)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	if actual < 1023 {
		t.Fatalf("actual size %d smaller than requested 1023", actual)
	}

	buf := unsafe.Slice((*byte)(ptr), 1023)
	for i := range buf {
		buf[i] = byte(i)
	}

	for i := range buf {
		if buf[i] != byte(i) {
			t.Fatalf("data mismatch at %d", i)
		}
	}

	if !h.Owns(ptr) {
		t.Fatal("heap should own a pointer it allocated")
	}

	if err := h.Free(ptr, actual); err != nil {
		t.Fatalf("Free failed: %v", err)
	}

	stats := h.Stats()
	if stats.LiveBytes != 0 {
		t.Fatalf("expected 0 live bytes after freeing only allocation, got %d", stats.LiveBytes)
	}
}

func TestAllocReturnsErrorWhenExhausted(t *testing.T) {
	h, err := New(osmemPageSize(t), WithCommitPageSize(osmemPageSize(t)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer h.Close()

	size := osmemPageSize(t)

	if _, _, err := h.Alloc(size * 2); err == nil {
		t.Fatal("expected allocation larger than the whole heap to fail")
	}
}

func TestZeroSizeAllocIsNoop(t *testing.T) {
	h, err := New(osmemPageSizeMultiple(t, 4), WithCommitPageSize(osmemPageSize(t)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer h.Close()

	ptr, actual, err := h.Alloc(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ptr != nil || actual != 0 {
		t.Fatalf("expected nil/0 for zero-size alloc, got ptr=%v actual=%d", ptr, actual)
	}
}

func TestDecommitsTrailingMemoryPastThreshold(t *testing.T) {
	page := osmemPageSize(t)
	h, err := New(page*8, WithCommitPageSize(page), WithDecommitThreshold(page*2))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer h.Close()

	// Allocating 7 pages commits all 8: the 7 pages handed out plus the
	// 1-page remainder node split off after them. Freeing the whole allocation collapses the free
	// list back to a single chunk spanning the entire reservation, so
	// committed-top should pull back to high-water (0) plus the
	// threshold (2 pages).
	ptr, actual, err := h.Alloc(page * 7)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	before := h.Stats().CommittedBytes

	if err := h.Free(ptr, actual); err != nil {
		t.Fatalf("Free failed: %v", err)
	}

	after := h.Stats().CommittedBytes
	if after >= before {
		t.Fatalf("expected committed bytes to shrink after freeing past the decommit threshold, before=%d after=%d", before, after)
	}

	if want := page * 2; after != want {
		t.Fatalf("expected committed bytes to settle at high-water (0) plus threshold (%d), got %d", want, after)
	}
}

func TestDefaultReserveSizeIsAPageMultiple(t *testing.T) {
	size := DefaultReserveSize()
	if size == 0 {
		t.Fatal("expected a nonzero default reserve size")
	}

	if size%osmem.PageSize() != 0 {
		t.Fatalf("expected DefaultReserveSize to be a page multiple, got %d", size)
	}
}

func TestNewWithZeroSizeUsesDefaultReserveSize(t *testing.T) {
	h, err := New(0, WithCommitPageSize(osmem.PageSize()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer h.Close()

	if h.Stats().ReservedBytes == 0 {
		t.Fatal("expected New(0, ...) to reserve a nonzero default size")
	}
}

func osmemPageSize(t *testing.T) uintptr {
	t.Helper()

	return osmem.PageSize()
}

func osmemPageSizeMultiple(t *testing.T, n uintptr) uintptr {
	t.Helper()

	return osmem.PageSize() * n
}
