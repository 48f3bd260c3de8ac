//go:build linux

package osmem

import "golang.org/x/sys/unix"

// decommitHint asks the kernel to drop the physical pages backing b
// immediately; Linux's MADV_DONTNEED does this synchronously.
func decommitHint(b []byte) error {
	return unix.Madvise(b, unix.MADV_DONTNEED)
}
