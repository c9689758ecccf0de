package semispace

import (
	"unsafe"

	"github.com/Starlight-JS/comet/objheader"
	"github.com/Starlight-JS/comet/sizeclass"
)

// LargeCutoff mirrors immix's and minimark's own large-object
// boundary; re-declared locally for the same import-direction reason
// both of those packages already document.
const LargeCutoff = 8192

type largeObject struct {
	ptr  unsafe.Pointer
	size uintptr
}

// largeSpace holds objects too big to ever be worth copying between
// spaces: they never move and are swept, not evacuated.
type largeSpace struct {
	alloc   sizeclass.Allocator
	objects []*largeObject
}

func newLargeSpace(alloc sizeclass.Allocator) *largeSpace {
	return &largeSpace{alloc: alloc}
}

func (s *largeSpace) Alloc(size uintptr) *objheader.Header {
	total := size + objheader.Size
	ptr := s.alloc.Alloc(total)
	h := (*objheader.Header)(ptr)
	h.SetInlineSize(uint64(size))
	s.objects = append(s.objects, &largeObject{ptr: ptr, size: total})
	return h
}

func (s *largeSpace) Contains(ptr unsafe.Pointer) bool {
	for _, o := range s.objects {
		if o.ptr == ptr {
			return true
		}
	}
	return false
}

func (s *largeSpace) Sweep() (released int) {
	survivors := s.objects[:0]
	for _, o := range s.objects {
		h := (*objheader.Header)(o.ptr)
		if h.State() == objheader.Unmarked {
			s.alloc.Free(o.ptr, o.size)
			released++
			continue
		}
		h.SetState(objheader.Unmarked)
		survivors = append(survivors, o)
	}
	s.objects = survivors
	return released
}

func (s *largeSpace) Len() int { return len(s.objects) }
