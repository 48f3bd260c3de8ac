//go:build unix

package osmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

func reservePlatform(size uintptr) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, fmt.Errorf("mmap reserve: %w", err)
	}

	return uintptr(unsafe.Pointer(&b[0])), nil
}

func commitPlatform(addr, size uintptr) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	if err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("mprotect commit: %w", err)
	}

	return nil
}

func decommitPlatform(addr, size uintptr) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	if err := unix.Mprotect(b, unix.PROT_NONE); err != nil {
		return fmt.Errorf("mprotect decommit: %w", err)
	}

	if err := decommitHint(b); err != nil {
		return fmt.Errorf("madvise decommit: %w", err)
	}

	return nil
}

func releasePlatform(addr, size uintptr) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("munmap release: %w", err)
	}

	return nil
}

func pageSizePlatform() uintptr {
	return uintptr(unix.Getpagesize())
}
