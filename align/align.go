// Package align provides the alignment arithmetic shared by every
// moonsugar allocator.
package align

// Up rounds v up to the nearest multiple of alignment, which must be a
// power of two. Up is idempotent: Up(Up(v, a), a) == Up(v, a).
func Up(v, alignment uintptr) uintptr {
	return (v + alignment - 1) &^ (alignment - 1)
}

// Down rounds v down to the nearest multiple of alignment, which must
// be a power of two.
func Down(v, alignment uintptr) uintptr {
	return v &^ (alignment - 1)
}

// IsPowerOfTwo reports whether v is a nonzero power of two.
func IsPowerOfTwo(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}
