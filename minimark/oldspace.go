package minimark

import (
	"sync"
	"unsafe"

	"github.com/Starlight-JS/comet/objheader"
	"github.com/Starlight-JS/comet/sizeclass"
)

// LargeCutoff mirrors the shared fixed numeric contract's LARGE_CUTOFF
// (8 KiB): objects above it start life directly in old space instead
// of the nursery, the same boundary Immix uses for its own
// large-object space. Re-declared here for the same reason CardShift
// is: this package cannot import the facade that would otherwise be
// the single source of truth.
const LargeCutoff = 8192

// oldObject is the bookkeeping record for one old-space allocation,
// whether it arrived via promotion or started out large. startCard
// and endCard cache the card range its bytes cover so the remembered-
// set scan can test AnyDirty without recomputing from size each time.
type oldObject struct {
	header             *objheader.Header
	ptr                unsafe.Pointer
	size               uintptr
	startCard, endCard uintptr
}

// OldSpace holds every promoted or originally-large object, backed by
// an external size-class allocator exactly as the spec requires, and
// swept with a standard mark-sweep pass during a major collection.
// Objects are keyed by header address so the write barrier's
// in_old_space fast-path check (spec §4.5) is O(1) instead of a linear
// scan over every old-space object on every pointer store.
type OldSpace struct {
	mu      sync.RWMutex
	alloc   sizeclass.Allocator
	objects map[unsafe.Pointer]*oldObject
}

// NewOldSpace returns an old space backed by alloc.
func NewOldSpace(alloc sizeclass.Allocator) *OldSpace {
	return &OldSpace{alloc: alloc, objects: make(map[unsafe.Pointer]*oldObject)}
}

func (s *OldSpace) register(ptr unsafe.Pointer, size uintptr) *objheader.Header {
	start := uintptr(ptr)
	end := start + size - 1
	h := (*objheader.Header)(ptr)
	s.mu.Lock()
	s.objects[ptr] = &oldObject{
		header:    h,
		ptr:       ptr,
		size:      size,
		startCard: cardOf(start),
		endCard:   cardOf(end),
	}
	s.mu.Unlock()
	return h
}

// Alloc reserves size bytes plus the header directly in old space,
// for an allocation that started out above LargeCutoff and so never
// passes through the nursery.
func (s *OldSpace) Alloc(size uintptr) *objheader.Header {
	total := size + objheader.Size
	ptr := s.alloc.Alloc(total)
	h := s.register(ptr, total)
	h.SetInlineSize(uint64(size))
	return h
}

// Promote copies a young object's header and payload into a freshly
// allocated old-space slot and returns the new header, without
// touching the source object — the caller (the minor collector) is
// responsible for overwriting the source header with a forwarding
// entry once the copy is in place.
func (s *OldSpace) Promote(src *objheader.Header) *objheader.Header {
	total := uintptr(src.InlineSize()) + objheader.Size
	ptr := s.alloc.Alloc(total)
	dstBytes := unsafe.Slice((*byte)(ptr), total)
	srcBytes := unsafe.Slice((*byte)(unsafe.Pointer(src)), total)
	copy(dstBytes, srcBytes)

	h := s.register(ptr, total)
	h.SetState(objheader.Unmarked)
	return h
}

// Contains reports whether ptr is the header address of a live
// old-space object.
func (s *OldSpace) Contains(ptr unsafe.Pointer) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[ptr]
	return ok
}

// ForEachDirty calls fn for every old-space object whose card range
// overlaps a dirty card in cards. This is the remembered-set scan:
// rather than re-reading raw bytes over a 1 KiB window (unsafe without
// per-object metadata, since old-space allocations are individually
// sized and not packed into one linear arena), Comet's card table
// identifies *which objects* to re-trace precisely, then lets the
// normal trace callback — not a conservative byte scan — find their
// pointer fields.
func (s *OldSpace) ForEachDirty(cards *CardTable, fn func(h *objheader.Header)) {
	s.mu.RLock()
	objs := make([]*oldObject, 0, len(s.objects))
	for _, o := range s.objects {
		objs = append(objs, o)
	}
	s.mu.RUnlock()

	for _, o := range objs {
		if cards.AnyDirty(o.startCard<<CardShift, o.endCard<<CardShift) {
			fn(o.header)
		}
	}
}

// MajorSweep performs a standard mark-sweep pass: every object whose
// header is unmarked is freed and dropped from the registry; survivors
// have their mark state reset for the next cycle.
func (s *OldSpace) MajorSweep() (released int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ptr, o := range s.objects {
		if o.header.State() == objheader.Unmarked {
			s.alloc.Free(o.ptr, o.size)
			released++
			delete(s.objects, ptr)
			continue
		}
		o.header.SetState(objheader.Unmarked)
	}
	return released
}

// Len reports how many objects currently live in old space.
func (s *OldSpace) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// InUse reports the total bytes currently occupied in old space.
func (s *OldSpace) InUse() uintptr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uintptr
	for _, o := range s.objects {
		total += o.size
	}
	return total
}
