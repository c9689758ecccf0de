//go:build unix

package sizeclass

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const pageSize = 4096

func pageAlign(size uintptr) uintptr {
	return (size + pageSize - 1) &^ (pageSize - 1)
}

var (
	mmappedMu  sync.Mutex
	mmappedLen = map[unsafe.Pointer]uintptr{}
)

// allocLargeBacking reserves a page-aligned anonymous mapping for an
// oversize (above the largest size class) allocation. Large-object
// records are comparatively rare and long-lived, which is exactly the
// case mmap is good at: a dedicated, page-granular mapping the kernel
// can zero-fill lazily, rather than adding pressure to Go's own heap
// for objects Comet's own collector — not Go's — is responsible for
// reclaiming.
func allocLargeBacking(size uintptr) unsafe.Pointer {
	n := pageAlign(size)
	b, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		// mmap is unavailable (e.g. sandboxed environment); fall back
		// to a Go-heap allocation. freeLargeBacking below tells the
		// two cases apart by whether the pointer was ever registered
		// as a mapping.
		return allocBytes(size)
	}
	ptr := unsafe.Pointer(&b[0])
	mmappedMu.Lock()
	mmappedLen[ptr] = n
	mmappedMu.Unlock()
	return ptr
}

func freeLargeBacking(ptr unsafe.Pointer, size uintptr) {
	mmappedMu.Lock()
	n, wasMapped := mmappedLen[ptr]
	if wasMapped {
		delete(mmappedLen, ptr)
	}
	mmappedMu.Unlock()

	if !wasMapped {
		return
	}
	b := unsafe.Slice((*byte)(ptr), n)
	_ = unix.Munmap(b)
}
