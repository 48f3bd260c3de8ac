//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package osmem

import "golang.org/x/sys/unix"

// decommitHint asks the kernel to reclaim the physical pages backing b
// lazily; BSD-family kernels expose this as MADV_FREE rather than
// Linux's synchronous MADV_DONTNEED.
func decommitHint(b []byte) error {
	return unix.Madvise(b, unix.MADV_FREE)
}
