package immix

import (
	"unsafe"

	"github.com/Starlight-JS/comet/objheader"
	"github.com/Starlight-JS/comet/sizeclass"
)

// largeObject is a singleton record for one allocation above LargeCutoff.
// Unlike small/medium objects, which live inside a block the sweep scans
// line by line, a large object's liveness is tracked directly on its
// header: the sweep in LargeSpace.Sweep just reads each record's mark
// state instead of consulting any line table.
type largeObject struct {
	ptr  unsafe.Pointer
	size uintptr
}

// LargeSpace holds every allocation that was too big to carve out of an
// Immix block, backed by an external size-class allocator exactly the
// way the spec treats large-object backing as pluggable.
type LargeSpace struct {
	alloc   sizeclass.Allocator
	objects []*largeObject
}

// NewLargeSpace returns a large-object space backed by alloc.
func NewLargeSpace(alloc sizeclass.Allocator) *LargeSpace {
	return &LargeSpace{alloc: alloc}
}

// Alloc reserves size bytes plus the header for a large object and
// registers it for the next sweep.
func (s *LargeSpace) Alloc(size uintptr) *objheader.Header {
	total := size + objheader.Size
	ptr := s.alloc.Alloc(total)
	s.objects = append(s.objects, &largeObject{ptr: ptr, size: total})
	h := (*objheader.Header)(ptr)
	h.SetInlineSize(uint64(size))
	return h
}

// Sweep releases every large object whose header is unmarked, per the
// spec's final collection phase, and clears marks on survivors ready
// for the next cycle.
func (s *LargeSpace) Sweep() (released int) {
	live := s.objects[:0]
	for _, obj := range s.objects {
		h := (*objheader.Header)(obj.ptr)
		if h.State() == objheader.Unmarked {
			s.alloc.Free(obj.ptr, obj.size)
			released++
			continue
		}
		h.SetState(objheader.Unmarked)
		live = append(live, obj)
	}
	s.objects = live
	return released
}

// Len reports how many large objects are currently live.
func (s *LargeSpace) Len() int { return len(s.objects) }

// Contains reports whether ptr is the header address of a live large
// object, used by the collector's conservative scan to accept only
// candidates that land exactly on a large object.
func (s *LargeSpace) Contains(ptr unsafe.Pointer) bool {
	for _, obj := range s.objects {
		if obj.ptr == ptr {
			return true
		}
	}
	return false
}
