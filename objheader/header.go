// Package objheader implements the fixed-size prefix stamped on every
// object a Comet heap allocates: a 64-bit word carrying the GC-info
// index, the mark/forwarding state, and the object's exact size, plus
// the machinery to read it back out after a (possibly moving)
// collection.
//
// Every pointer a collector ever follows points at a Header, never at
// an interior field. Interior pointers are resolved by the owning
// policy's block/line or large-object tables, not here.
package objheader

import "unsafe"

// MarkState is the 2-bit mark/forwarding state carried in every header.
type MarkState uint8

const (
	Unmarked MarkState = iota
	Marked
	Pinned
	Forwarded
)

func (s MarkState) String() string {
	switch s {
	case Unmarked:
		return "unmarked"
	case Marked:
		return "marked"
	case Pinned:
		return "pinned"
	case Forwarded:
		return "forwarded"
	default:
		return "invalid"
	}
}

const (
	indexBits  = 14
	indexMask  = uint64(1)<<indexBits - 1
	markShift  = indexBits
	markBits   = 2
	markMask   = uint64(1)<<markBits - 1
	sizeShift  = indexBits + markBits
	maxSize    = uint64(1)<<(64-sizeShift) - 1
	MinIndex   = 1
	MaxIndex   = 1 << indexBits
)

// HeaderWords is the number of machine words the header occupies at the
// front of every allocation. A forwarding pointer, once an object has
// been evacuated, overlays the first payload word rather than growing
// the header.
const HeaderWords = 1

// Header is the fixed prefix stamped on every live allocation. It is
// always the first thing at an object's address; the payload begins
// immediately after it.
type Header struct {
	word uint64
}

// Size is the number of header bytes (== len(word)'s backing bytes),
// used by allocators to reserve space ahead of the payload.
const Size = unsafe.Sizeof(Header{})

// Alignment is the byte alignment every policy rounds allocation
// requests up to before adding header space, matching the machine word
// size so a header (and any forwarding pointer later overlaid on the
// payload) is always naturally aligned.
const Alignment = unsafe.Sizeof(uintptr(0))

// GCInfoIndex returns the index into the process GC-info table
// describing this object's trace/finalize/vtable callbacks.
func (h *Header) GCInfoIndex() uint16 {
	return uint16(h.word & indexMask)
}

// SetGCInfoIndex stamps the GC-info index. idx must lie in
// [MinIndex, MaxIndex).
func (h *Header) SetGCInfoIndex(idx uint16) {
	h.word = (h.word &^ indexMask) | (uint64(idx) & indexMask)
}

// State returns the current mark/forwarding state.
func (h *Header) State() MarkState {
	return MarkState((h.word >> markShift) & markMask)
}

// SetState sets the mark/forwarding state.
func (h *Header) SetState(s MarkState) {
	h.word = (h.word &^ (markMask << markShift)) | (uint64(s) << markShift)
}

// InlineSize returns the exact payload size in bytes as stamped at
// allocation time. It is valid regardless of which policy owns the
// object; large-object records additionally keep their own copy for
// bookkeeping, but the header always carries the authoritative value
// so gc_size never needs a policy-specific code path for the common
// case.
func (h *Header) InlineSize() uint64 {
	return h.word >> sizeShift
}

// SetInlineSize stamps the exact payload size. size must fit in the
// remaining bits after the index and mark fields; callers that might
// exceed this (practically never, at 2^48 bytes) should keep the
// object in a large-object record instead and are responsible for the
// check.
func (h *Header) SetInlineSize(size uint64) {
	if size > maxSize {
		size = maxSize
	}
	h.word = (h.word &^ (^(uint64(1)<<sizeShift - 1))) | (size << sizeShift)
}

// Payload returns a pointer to the first byte following the header,
// i.e. the start of the object's fields as the embedder laid them out.
func (h *Header) Payload() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h), Size)
}

// HeaderOf recovers the Header for a payload pointer previously
// returned by an allocator.
func HeaderOf(payload unsafe.Pointer) *Header {
	return (*Header)(unsafe.Add(payload, -int(Size)))
}

// SetForwarding marks h as evacuated and overlays its forwarding
// pointer onto the first payload word, exactly as spec'd: the
// forwarding word overlays payload bytes only after the object has
// moved, never growing the header itself.
func (h *Header) SetForwarding(to *Header) {
	h.SetState(Forwarded)
	*(*unsafe.Pointer)(h.Payload()) = unsafe.Pointer(to)
}

// ForwardingTarget returns the header this object was evacuated to, or
// nil if it has not been forwarded.
func (h *Header) ForwardingTarget() *Header {
	if h.State() != Forwarded {
		return nil
	}
	return (*Header)(*(*unsafe.Pointer)(h.Payload()))
}

// Resolve follows forwarding pointers to the header's current location.
// For an object that has not moved this is a no-op returning h itself.
func Resolve(h *Header) *Header {
	for {
		next := h.ForwardingTarget()
		if next == nil {
			return h
		}
		h = next
	}
}

// GCSize returns the allocation size in bytes, the payload size rounded
// up to Alignment, following forwarding pointers first so that a moved
// object's size is always read from its current, live copy.
func GCSize(h *Header) uint64 {
	return (Resolve(h).InlineSize() + uint64(Alignment) - 1) &^ (uint64(Alignment) - 1)
}
