//go:build windows

package osmem

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func reservePlatform(size uintptr) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return 0, fmt.Errorf("VirtualAlloc reserve: %w", err)
	}

	return addr, nil
}

func commitPlatform(addr, size uintptr) error {
	if _, err := windows.VirtualAlloc(addr, size, windows.MEM_COMMIT, windows.PAGE_READWRITE); err != nil {
		return fmt.Errorf("VirtualAlloc commit: %w", err)
	}

	return nil
}

func decommitPlatform(addr, size uintptr) error {
	if err := windows.VirtualFree(addr, size, windows.MEM_DECOMMIT); err != nil {
		return fmt.Errorf("VirtualFree decommit: %w", err)
	}

	return nil
}

func releasePlatform(addr, size uintptr) error {
	// MEM_RELEASE requires size 0 and the original base address.
	if err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("VirtualFree release: %w", err)
	}

	return nil
}

func pageSizePlatform() uintptr {
	var si windows.SystemInfo

	windows.GetSystemInfo(&si)

	return uintptr(si.PageSize)
}
