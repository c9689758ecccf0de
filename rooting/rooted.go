package rooting

import "unsafe"

// Rooted is a scoped root handle over a single pointer slot. It
// behaves as the underlying pointer for reads and survives collection:
// if the policy moves the referent, the cell's slot is updated in
// place by the collector during root discovery, so Get always returns
// the object's current address.
//
// A Rooted value is only ever valid between the Root call that created
// it and the release it returned; it must never be built any other
// way (there is no exported constructor besides Root), and it must
// never be passed as a parameter — each frame should root its own
// handle and pass the dereferenced pointer to callees, re-rooting
// there if the callee itself needs to hold it live across a call that
// might collect.
type Rooted struct {
	cell *Cell
}

// Get returns the payload pointer currently held in this root's slot.
func (r Rooted) Get() unsafe.Pointer {
	if r.cell == nil {
		panic("rooting: Get on a zero-value Rooted handle")
	}
	return r.cell.slot
}

// Set overwrites the rooted slot with a new payload pointer, e.g.
// after allocating a fresh object to root it under the same handle.
func (r Rooted) Set(p unsafe.Pointer) {
	if r.cell == nil {
		panic("rooting: Set on a zero-value Rooted handle")
	}
	r.cell.slot = p
}

// Root is the sole scoped-acquisition primitive for rooting a pointer.
// It pushes a new cell onto stack and returns a handle to it along
// with a release function. The caller must defer the release
// immediately:
//
//	root, release := rooting.Root(stack, ptr)
//	defer release()
//
// so that the cell is popped on every exit path from the enclosing
// scope — normal return, early return, or panic unwinding — exactly
// the guarantee a lexical-block-with-cleanup primitive gives in
// languages that have one natively.
func Root(stack *ShadowStack, p unsafe.Pointer) (Rooted, func()) {
	cell := &Cell{slot: p}
	stack.push(cell)
	return Rooted{cell: cell}, func() { stack.pop(cell) }
}
