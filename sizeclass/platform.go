package sizeclass

import "unsafe"

// allocBytes returns size zeroed bytes for a per-class slab. These are
// small and short-lived enough (recycled through a size class's free
// list) that a plain Go allocation is the right tool; only the
// oversize path below reaches for the OS directly.
func allocBytes(size uintptr) unsafe.Pointer {
	buf := make([]byte, size)
	return unsafe.Pointer(&buf[0])
}
