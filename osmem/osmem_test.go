package osmem

import (
	"testing"
	"unsafe"
)

func TestReserveCommitDecommitRelease(t *testing.T) {
	size := PageSize() * 4

	region, err := Reserve(size)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	defer func() {
		if err := Release(region.Addr, region.Size); err != nil {
			t.Errorf("Release failed: %v", err)
		}
	}()

	if region.Size < size {
		t.Fatalf("reserved size %d smaller than requested %d", region.Size, size)
	}

	if err := Commit(region.Addr, region.Size); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// Writing into the committed range must not fault.
	buf := unsafe.Slice((*byte)(unsafe.Pointer(region.Addr)), region.Size)
	for i := range buf {
		buf[i] = byte(i)
	}

	for i := range buf {
		if buf[i] != byte(i) {
			t.Fatalf("data mismatch at offset %d", i)
		}
	}

	if err := Decommit(region.Addr, region.Size); err != nil {
		t.Fatalf("Decommit failed: %v", err)
	}
}

func TestReserveZeroSizeIsInvalid(t *testing.T) {
	if _, err := Reserve(0); err == nil {
		t.Fatal("expected error reserving zero bytes")
	}
}

func TestReserveRoundsUpToPageSize(t *testing.T) {
	region, err := Reserve(1)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	defer Release(region.Addr, region.Size)

	if region.Size != PageSize() {
		t.Fatalf("expected rounded size %d, got %d", PageSize(), region.Size)
	}
}

func TestCommitDecommitZeroSizeIsNoop(t *testing.T) {
	if err := Commit(0, 0); err != nil {
		t.Fatalf("Commit(0,0) should be a no-op: %v", err)
	}

	if err := Decommit(0, 0); err != nil {
		t.Fatalf("Decommit(0,0) should be a no-op: %v", err)
	}
}
