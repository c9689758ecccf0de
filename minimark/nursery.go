// Package minimark implements the generational collector: a bump-
// allocated nursery for young objects, a card-marked old space
// populated by promotion and by originally-large allocations, and a
// mark-sweep major collection over that old space.
//
// Grounded the same way immix is: tinygo's gc_blocks.go supplies the
// single-lock, bump-into-a-region allocation discipline and the
// free-list-over-overlaid-memory pattern; MiniMark's generational
// structure itself (nursery/remembered-set/card-table/Cheney-scan) has
// no tinygo analogue, since tinygo ships only a mark-sweep collector,
// and is built from the spec's own description of the classic
// generational design (itself the design PyPy's "minimark" policy is
// named for).
package minimark

import "unsafe"

// Nursery is the young generation: one contiguous bump-allocated
// region with a single cursor and limit, reset wholesale after every
// minor collection rather than swept object by object.
type Nursery struct {
	arena  []byte
	base   uintptr
	cursor uintptr
	limit  uintptr
}

// NewNursery reserves a nursery of the given capacity (the spec's
// max_eden_size).
func NewNursery(capacity uintptr) *Nursery {
	arena := make([]byte, capacity)
	n := &Nursery{arena: arena}
	n.base = uintptr(unsafe.Pointer(&arena[0]))
	n.cursor = n.base
	n.limit = n.base + capacity
	return n
}

// Capacity reports the nursery's fixed size in bytes.
func (n *Nursery) Capacity() uintptr { return n.limit - n.base }

// Contains reports whether addr falls within the nursery's arena.
func (n *Nursery) Contains(addr uintptr) bool {
	return addr >= n.base && addr < n.limit
}

// Alloc bump-allocates size bytes, or returns nil if the nursery has
// no room left (the caller triggers a minor collection and retries).
func (n *Nursery) Alloc(size uintptr) unsafe.Pointer {
	size = alignUp(size, 8)
	if n.cursor+size > n.limit {
		return nil
	}
	p := unsafe.Pointer(n.cursor)
	n.cursor += size
	return p
}

// Used reports how many bytes are currently allocated since the last
// Reset, for heap-growth diagnostics.
func (n *Nursery) Used() uintptr { return n.cursor - n.base }

// Reset rewinds the bump cursor to the start of the arena and zeroes
// it. Called at the end of every minor collection: everything that was
// still in the nursery at that point has, by construction, already
// been promoted or is unreachable, so there is nothing left to
// preserve in place. Zeroing matters because the arena is reused for
// the next cycle's allocations without each one restamping every
// header bit: an unzeroed reuse would let a fresh object inherit a
// dead predecessor's leftover mark/forwarding state at the same
// address.
func (n *Nursery) Reset() {
	n.cursor = n.base
	clear(n.arena)
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
