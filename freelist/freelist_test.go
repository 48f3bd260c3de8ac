package freelist

import "testing"

func TestAllocSplitsWhenRemainderFitsHeader(t *testing.T) {
	l := New(1024, nil)

	offset, actual, ok, err := l.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	if !ok {
		t.Fatal("expected allocation to succeed")
	}

	if offset != 0 {
		t.Fatalf("expected offset 0, got %d", offset)
	}

	if actual != 64 {
		t.Fatalf("expected actual size 64, got %d", actual)
	}

	if got := l.TotalFree(); got != 1024-64 {
		t.Fatalf("expected %d bytes free, got %d", 1024-64, got)
	}

	if err := l.CheckInvariants(); err != nil {
		t.Fatalf("invariants violated: %v", err)
	}
}

func TestAllocConsumesWholeNodeWhenRemainderTooSmall(t *testing.T) {
	l := New(80, nil)

	// Remainder of 80-64=16 is smaller than nodeHeaderSize (24), so the
	// whole node should be consumed instead of split.
	_, actual, ok, err := l.Alloc(64)
	if err != nil || !ok {
		t.Fatalf("Alloc failed: ok=%v err=%v", ok, err)
	}

	if actual != 80 {
		t.Fatalf("expected entire 80-byte node consumed, got %d", actual)
	}

	if got := l.TotalFree(); got != 0 {
		t.Fatalf("expected 0 bytes free, got %d", got)
	}
}

func TestFreeCoalescesBothNeighbours(t *testing.T) {
	l := New(300, nil)

	offA, _, _, _ := l.Alloc(100)
	offB, _, _, _ := l.Alloc(100)
	offC, _, _, _ := l.Alloc(100)

	if err := l.Free(offA, 100); err != nil {
		t.Fatalf("Free A failed: %v", err)
	}

	if err := l.Free(offC, 100); err != nil {
		t.Fatalf("Free C failed: %v", err)
	}

	// Two disjoint free chunks at this point (A alone, C alone); middle
	// (B) still allocated so no coalescing yet.
	if err := l.CheckInvariants(); err != nil {
		t.Fatalf("invariants violated: %v", err)
	}

	if err := l.Free(offB, 100); err != nil {
		t.Fatalf("Free B failed: %v", err)
	}

	// Freeing B should coalesce A+B+C back into a single 300-byte chunk.
	if got := l.TotalFree(); got != 300 {
		t.Fatalf("expected fully coalesced 300 bytes free, got %d", got)
	}

	var chunks int
	l.Walk(func(Chunk) bool { chunks++; return true })

	if chunks != 1 {
		t.Fatalf("expected 1 coalesced chunk, got %d", chunks)
	}

	if err := l.CheckInvariants(); err != nil {
		t.Fatalf("invariants violated: %v", err)
	}
}

func TestAllocReturnsFalseWhenNothingFits(t *testing.T) {
	l := New(16, nil)

	_, _, ok, err := l.Alloc(1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ok {
		t.Fatal("expected allocation to fail for oversized request")
	}
}

func TestTailReturnsHighestAddressChunk(t *testing.T) {
	l := New(300, nil)

	if _, ok := New(0, nil).Tail(); ok {
		t.Fatal("expected Tail to report false for an empty-capacity list")
	}

	offA, _, _, _ := l.Alloc(100)

	tail, ok := l.Tail()
	if !ok {
		t.Fatal("expected Tail to find the remaining free chunk")
	}

	if tail.Offset != 100 || tail.Size != 200 {
		t.Fatalf("expected tail {100, 200}, got %+v", tail)
	}

	if err := l.Free(offA, 100); err != nil {
		t.Fatalf("Free failed: %v", err)
	}

	tail, ok = l.Tail()
	if !ok || tail.Offset != 0 || tail.Size != 300 {
		t.Fatalf("expected tail to coalesce back to {0, 300}, got %+v ok=%v", tail, ok)
	}
}

func TestResetReseedsSingleNode(t *testing.T) {
	l := New(64, nil)
	l.Alloc(32)
	l.Reset(128)

	if got := l.TotalFree(); got != 128 {
		t.Fatalf("expected 128 bytes free after reset, got %d", got)
	}
}

type recordingOracle struct {
	created []Chunk
	alloced []Chunk
}

func (r *recordingOracle) BeforeNodeCreate(offset, size uintptr) error {
	r.created = append(r.created, Chunk{Offset: offset, Size: size})
	return nil
}

func (r *recordingOracle) BeforeAllocFromNode(offset, size uintptr) error {
	r.alloced = append(r.alloced, Chunk{Offset: offset, Size: size})
	return nil
}

func TestOracleFiresOnAllocAndFree(t *testing.T) {
	oracle := &recordingOracle{}
	l := New(256, oracle)

	off, _, ok, err := l.Alloc(64)
	if err != nil || !ok {
		t.Fatalf("Alloc failed: ok=%v err=%v", ok, err)
	}

	if len(oracle.alloced) != 1 || oracle.alloced[0].Size != 64 {
		t.Fatalf("expected one BeforeAllocFromNode call for 64 bytes, got %+v", oracle.alloced)
	}

	if err := l.Free(off, 64); err != nil {
		t.Fatalf("Free failed: %v", err)
	}

	if len(oracle.created) == 0 {
		t.Fatal("expected BeforeNodeCreate to fire on free")
	}
}
