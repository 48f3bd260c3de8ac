package arena

import (
	"unsafe"

	"testing"

	"github.com/moonsugar-systems/moonsugar/heap"
	"github.com/moonsugar-systems/moonsugar/osmem"
)

func newTestArena(t *testing.T, baseSize uintptr, opts ...Option) (*Arena, *heap.Heap) {
	t.Helper()

	h, err := heap.New(16*1024*1024, heap.WithCommitPageSize(osmem.PageSize()))
	if err != nil {
		t.Fatalf("heap.New failed: %v", err)
	}

	a, err := New(h, baseSize, opts...)
	if err != nil {
		t.Fatalf("arena.New failed: %v", err)
	}

	t.Cleanup(func() { h.Close() })

	return a, h
}

func TestAllocGrowsFirstNodeOnDemand(t *testing.T) {
	a, _ := newTestArena(t, 1024)

	ptr, actual, err := a.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	if ptr == nil {
		t.Fatal("expected non-nil pointer")
	}

	if actual < 64 {
		t.Fatalf("actual %d smaller than requested 64", actual)
	}

	stats := a.Stats()
	if stats.NodeCount != 1 {
		t.Fatalf("expected 1 node after first alloc, got %d", stats.NodeCount)
	}
}

func TestReallocWithinActualSizeKeepsPointer(t *testing.T) {
	a, _ := newTestArena(t, 1024)

	ptr, actual, err := a.Alloc(1023)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	// Realloc down to 2 then back up to 9, both within the actual chunk
	// size, must keep returning the same pointer.
	ptr2, actual2, err := a.Realloc(ptr, actual, 2)
	if err != nil {
		t.Fatalf("Realloc down failed: %v", err)
	}

	if ptr2 != ptr {
		t.Fatal("expected same pointer when shrinking within actual size")
	}

	ptr3, _, err := a.Realloc(ptr2, actual2, 9)
	if err != nil {
		t.Fatalf("Realloc up failed: %v", err)
	}

	if ptr3 != ptr {
		t.Fatal("expected same pointer when growing back within actual size")
	}
}

func TestReallocBeyondActualSizeCopiesAndFrees(t *testing.T) {
	a, _ := newTestArena(t, 1024)

	ptr, actual, err := a.Alloc(16)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	buf := unsafe.Slice((*byte)(ptr), 16)
	for i := range buf {
		buf[i] = byte(i + 1)
	}

	newPtr, newActual, err := a.Realloc(ptr, actual, 4096)
	if err != nil {
		t.Fatalf("Realloc failed: %v", err)
	}

	if newPtr == ptr {
		t.Fatal("expected a different pointer when growing past actual size")
	}

	if newActual < 4096 {
		t.Fatalf("actual %d smaller than requested 4096", newActual)
	}

	newBuf := unsafe.Slice((*byte)(newPtr), 16)
	for i := range newBuf {
		if newBuf[i] != byte(i+1) {
			t.Fatalf("data mismatch at %d after realloc", i)
		}
	}
}

func TestFreeReleasesEmptyNonStickyNode(t *testing.T) {
	a, _ := newTestArena(t, 1024)

	ptr, actual, err := a.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	if stats := a.Stats(); stats.NodeCount != 1 {
		t.Fatalf("expected 1 node, got %d", stats.NodeCount)
	}

	if err := a.Free(ptr, actual); err != nil {
		t.Fatalf("Free failed: %v", err)
	}

	if stats := a.Stats(); stats.NodeCount != 0 {
		t.Fatalf("expected node to be released after emptying a non-sticky arena, got %d nodes", stats.NodeCount)
	}
}

func TestStickyArenaKeepsEmptyNode(t *testing.T) {
	a, _ := newTestArena(t, 1024, WithSticky(true))

	ptr, actual, err := a.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	if err := a.Free(ptr, actual); err != nil {
		t.Fatalf("Free failed: %v", err)
	}

	stats := a.Stats()
	if stats.NodeCount != 1 {
		t.Fatalf("expected sticky node to persist after emptying, got %d nodes", stats.NodeCount)
	}

	if stats.AllocatedSize != 0 {
		t.Fatalf("expected 0 allocated bytes after freeing the only allocation, got %d", stats.AllocatedSize)
	}
}

func TestClearReleasesNonStickyNodes(t *testing.T) {
	a, _ := newTestArena(t, 1024)

	if _, _, err := a.Alloc(64); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	if err := a.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if stats := a.Stats(); stats.NodeCount != 0 {
		t.Fatalf("expected 0 nodes after clearing a non-sticky arena, got %d", stats.NodeCount)
	}
}

func TestClearResetsStickyNodesInPlace(t *testing.T) {
	a, _ := newTestArena(t, 1024, WithSticky(true))

	if _, _, err := a.Alloc(64); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	if err := a.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	stats := a.Stats()
	if stats.NodeCount != 1 {
		t.Fatalf("expected sticky node to survive Clear, got %d nodes", stats.NodeCount)
	}

	if stats.AllocatedSize != 0 {
		t.Fatalf("expected 0 allocated bytes after Clear, got %d", stats.AllocatedSize)
	}
}

func TestFreeOfForeignPointerFails(t *testing.T) {
	a, _ := newTestArena(t, 1024)

	var stray byte

	if err := a.Free(unsafe.Pointer(&stray), 1); err == nil {
		t.Fatal("expected Free of a foreign pointer to fail")
	}
}
