// Package osmem provides the four virtual-memory primitives every
// moonsugar allocator is built on: Reserve, Commit, Decommit, and
// Release. Platform-specific syscall plumbing lives in osmem_unix.go /
// osmem_windows.go, following a per-OS build-tag split for raw syscall
// wrappers.
package osmem

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/moonsugar-systems/moonsugar/align"
	"github.com/moonsugar-systems/moonsugar/errs"
)

var log = logrus.WithField("component", "osmem")

var pageSize = func() uintptr {
	if ps := pageSizePlatform(); ps > 0 {
		return ps
	}

	return 4096
}()

// PageSize returns the OS page granularity used to round every address
// range passed to Reserve/Commit/Decommit.
func PageSize() uintptr { return pageSize }

// Region describes an address range reserved with Reserve.
type Region struct {
	Addr uintptr
	Size uintptr
}

// Reserve requests size bytes, rounded up to the page size, of address
// space with no backing storage. The returned Region's Size is the
// rounded size, not the request.
func Reserve(size uintptr) (Region, error) {
	if size == 0 {
		return Region{}, errs.New("osmem.Reserve", errs.InvalidArgument, fmt.Errorf("size must be greater than 0"))
	}

	rounded := align.Up(size, pageSize)

	addr, err := reservePlatform(rounded)
	if err != nil {
		return Region{}, errs.New("osmem.Reserve", errs.Memory, err)
	}

	log.WithFields(logrus.Fields{"addr": addr, "size": rounded}).Debug("reserved address range")

	return Region{Addr: addr, Size: rounded}, nil
}

// Commit backs the page-aligned range covering [addr, addr+size) with
// storage. Idempotent on already-committed pages.
func Commit(addr, size uintptr) error {
	if size == 0 {
		return nil
	}

	start := align.Down(addr, pageSize)
	end := align.Up(addr+size, pageSize)

	if err := commitPlatform(start, end-start); err != nil {
		return errs.New("osmem.Commit", errs.Memory, err)
	}

	log.WithFields(logrus.Fields{"addr": start, "size": end - start}).Debug("committed range")

	return nil
}

// Decommit removes backing storage from the page-aligned covering
// range; the range remains reserved.
func Decommit(addr, size uintptr) error {
	if size == 0 {
		return nil
	}

	start := align.Down(addr, pageSize)
	end := align.Up(addr+size, pageSize)

	if err := decommitPlatform(start, end-start); err != nil {
		return errs.New("osmem.Decommit", errs.Memory, err)
	}

	log.WithFields(logrus.Fields{"addr": start, "size": end - start}).Debug("decommitted range")

	return nil
}

// Release returns addr/size, as returned by Reserve, to the OS
// entirely. addr and size must match a prior Reserve call exactly.
func Release(addr, size uintptr) error {
	if err := releasePlatform(addr, size); err != nil {
		return errs.New("osmem.Release", errs.Memory, err)
	}

	log.WithFields(logrus.Fields{"addr": addr, "size": size}).Debug("released range")

	return nil
}
