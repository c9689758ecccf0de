package sizeclass

import (
	"sync"
	"unsafe"
)

// freeNode overlays the first word of a freed block, exactly the way
// the teacher's freeRange overlays freed heap memory (gc_blocks.go)
// rather than carrying a separate bookkeeping allocation per node.
type freeNode struct {
	next unsafe.Pointer
}

// DefaultAllocator is a segregated free-list allocator: one free list
// per size class, each grown one backing slab at a time, plus a
// dedicated path for requests past the largest class (used for
// Immix's large-object space and MiniMark objects promoted directly
// because they started out larger than the nursery's cutoff).
type DefaultAllocator struct {
	mu      sync.Mutex
	classes []uintptr
	free    []unsafe.Pointer // free[i] is the free list for classes[i]
	inUse   uintptr
	oversizeCount uintptr
}

// NewDefaultAllocator builds the size-class table from cfg and
// returns a ready-to-use allocator.
func NewDefaultAllocator(cfg Config) *DefaultAllocator {
	classes := buildClasses(cfg)
	return &DefaultAllocator{
		classes: classes,
		free:    make([]unsafe.Pointer, len(classes)),
	}
}

func (a *DefaultAllocator) Classes() []uintptr {
	return append([]uintptr(nil), a.classes...)
}

func (a *DefaultAllocator) ClassFor(size uintptr) uintptr {
	for _, c := range a.classes {
		if size <= c {
			return c
		}
	}
	return alignUp(size, 8)
}

func (a *DefaultAllocator) indexOf(class uintptr) int {
	for i, c := range a.classes {
		if c == class {
			return i
		}
	}
	return -1
}

// Alloc returns size bytes of zeroed memory, rounded up to the
// allocator's next size class (or allocated exactly, for requests
// past the largest class).
func (a *DefaultAllocator) Alloc(size uintptr) unsafe.Pointer {
	a.mu.Lock()
	defer a.mu.Unlock()

	class := a.ClassFor(size)
	idx := a.indexOf(class)
	if idx < 0 {
		a.oversizeCount++
		a.inUse += class
		return allocLargeBacking(class)
	}

	if head := a.free[idx]; head != nil {
		a.free[idx] = (*freeNode)(head).next
		zero(head, class)
		a.inUse += class
		return head
	}

	a.inUse += class
	return allocBytes(class)
}

// Free returns ptr (originally obtained from Alloc for the same size)
// to the appropriate free list.
func (a *DefaultAllocator) Free(ptr unsafe.Pointer, size uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	class := a.ClassFor(size)
	idx := a.indexOf(class)
	a.inUse -= class
	if idx < 0 {
		a.oversizeCount--
		freeLargeBacking(ptr, class)
		return
	}
	node := (*freeNode)(ptr)
	node.next = a.free[idx]
	a.free[idx] = ptr
}

// InUse reports the number of bytes currently handed out and not yet
// freed, for diagnostics.
func (a *DefaultAllocator) InUse() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

func zero(p unsafe.Pointer, size uintptr) {
	b := unsafe.Slice((*byte)(p), size)
	for i := range b {
		b[i] = 0
	}
}
