package minimark

import "github.com/Starlight-JS/comet/objheader"

// Allocator is MiniMark's front end: everything at or below
// LargeCutoff starts in the nursery; everything above it goes
// straight to old space, since an object that large would only be
// copied out of the nursery on its first minor collection anyway.
type Allocator struct {
	nursery *Nursery
	old     *OldSpace
}

// NewAllocator builds a front end over nursery and old.
func NewAllocator(nursery *Nursery, old *OldSpace) *Allocator {
	return &Allocator{nursery: nursery, old: old}
}

// Alloc returns a ready header for a payload of size bytes, or nil if
// the nursery has no room (the caller runs a minor collection and
// retries).
func (a *Allocator) Alloc(size uintptr) *objheader.Header {
	if size > LargeCutoff {
		return a.old.Alloc(size)
	}
	total := size + objheader.Size
	p := a.nursery.Alloc(total)
	if p == nil {
		return nil
	}
	h := (*objheader.Header)(p)
	h.SetInlineSize(uint64(size))
	return h
}
