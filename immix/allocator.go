package immix

import (
	"fmt"
	"unsafe"

	"github.com/Starlight-JS/comet/objheader"
)

// ErrOutOfMemory is returned when an allocation cannot be satisfied even
// after the caller has run a collection and attempted to grow the space.
var ErrOutOfMemory = fmt.Errorf("immix: out of memory")

// Allocator is the per-policy front end described in the spec: a small
// fast path bump-allocating within the current block's hole, a medium
// overflow path with its own block and cursor so it can never pin a
// hole a small object needed, and a large path delegating straight to
// the large-object space.
type Allocator struct {
	manager *BlockManager
	large   *LargeSpace

	smallBlock    *Block
	overflowBlock *Block
}

// NewAllocator builds a front end over manager and large.
func NewAllocator(manager *BlockManager, large *LargeSpace) *Allocator {
	return &Allocator{manager: manager, large: large}
}

// classify returns which of the three Immix size classes size belongs
// to, matching the boundaries named in the fixed numeric contract.
func classify(size uintptr) string {
	switch {
	case size <= MediumCutoff:
		return "small"
	case size <= LargeCutoff:
		return "medium"
	default:
		return "large"
	}
}

// Alloc returns a ready-to-use header for a payload of size bytes, or
// nil if the space is exhausted even after trying to acquire a new
// block from the manager. The caller (the heap driver) is responsible
// for running a collection and retrying, or growing the space, before
// treating a nil result as a hard failure.
func (a *Allocator) Alloc(size uintptr) *objheader.Header {
	total := size + objheader.Size
	switch classify(size) {
	case "large":
		return a.large.Alloc(size)
	case "medium":
		p := a.allocMedium(total)
		if p == nil {
			return nil
		}
		return a.initHeader(p, size)
	default:
		p := a.allocSmall(total)
		if p == nil {
			return nil
		}
		return a.initHeader(p, size)
	}
}

func (a *Allocator) initHeader(p unsafe.Pointer, size uintptr) *objheader.Header {
	h := (*objheader.Header)(p)
	h.SetInlineSize(uint64(size))
	return h
}

func (a *Allocator) allocSmall(total uintptr) unsafe.Pointer {
	if a.smallBlock != nil {
		if p := a.smallBlock.bumpSmall(total); p != nil {
			return p
		}
	}
	b := a.manager.acquireOrGrow()
	a.smallBlock = b
	return b.bumpSmall(total)
}

func (a *Allocator) allocMedium(total uintptr) unsafe.Pointer {
	if a.overflowBlock != nil {
		if p := a.overflowBlock.bumpMedium(total); p != nil {
			return p
		}
	}
	b := a.manager.acquireOrGrow()
	a.overflowBlock = b
	return b.bumpMedium(total)
}
