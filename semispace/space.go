// Package semispace implements a minimal two-space copying collector:
// every allocation bumps into from-space, and a collection copies
// everything still reachable into to-space before swapping the two.
// It exists to prove the rooting/GC-info contract is policy-agnostic
// (spec §1, §9) rather than as a production-grade moving collector —
// immix and minimark are Comet's two real policies.
//
// Grounded on original_source/src/semispace.rs: a from_space/to_space
// pair of bump-pointer regions, a mark stack driving a Cheney-style
// copy, and a side large-object space for anything too big to move.
package semispace

import "unsafe"

// bumpSpace is one half of the semispace pair: a single contiguous
// region with a bump cursor, identical in shape to minimark's Nursery.
type bumpSpace struct {
	arena  []byte
	base   uintptr
	cursor uintptr
	limit  uintptr
}

func newBumpSpace(capacity uintptr) *bumpSpace {
	arena := make([]byte, capacity)
	s := &bumpSpace{arena: arena}
	s.base = uintptr(unsafe.Pointer(&arena[0]))
	s.cursor = s.base
	s.limit = s.base + capacity
	return s
}

func (s *bumpSpace) contains(addr uintptr) bool {
	return addr >= s.base && addr < s.limit
}

func (s *bumpSpace) alloc(size uintptr) unsafe.Pointer {
	size = alignUp(size, 8)
	if s.cursor+size > s.limit {
		return nil
	}
	p := unsafe.Pointer(s.cursor)
	s.cursor += size
	return p
}

// clear rewinds the bump cursor and zeroes the arena so the next
// cycle's allocations and evacuations never inherit a previous
// occupant's leftover mark/forwarding state at the same address.
func (s *bumpSpace) clear() {
	s.cursor = s.base
	clear(s.arena)
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
