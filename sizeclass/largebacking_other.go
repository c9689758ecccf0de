//go:build !unix

package sizeclass

import "unsafe"

// allocLargeBacking falls back to a plain Go allocation on platforms
// without the unix mmap family (e.g. Windows, wasm); Go's allocator
// is already page-aware there, so this loses only the dedicated mmap
// mapping the unix path uses.
func allocLargeBacking(size uintptr) unsafe.Pointer {
	return allocBytes(size)
}

func freeLargeBacking(ptr unsafe.Pointer, size uintptr) {}
