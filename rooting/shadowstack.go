// Package rooting implements Comet's precise-rooting machinery: the
// shadow stack and scoped root handles, weak references, and the
// pluggable marking-constraint list. Together these are what let a
// collection be precise instead of having to scan the native stack
// conservatively.
//
// Grounded on the teacher's stack-chain walk (gc_stack_portable.go,
// gc_stack_cores.go), which keeps a parallel linked list of frames so
// the collector can walk live pointers without guessing. Comet's
// shadow stack is the same idea turned explicit and embedder-driven,
// since a hosted Go library cannot hook into the compiler the way
// tinygo's IR pass does.
package rooting

import "unsafe"

// Cell is one frame on the shadow stack: a single pointer slot plus
// the link to the previous frame. Cells are always heap-allocated (via
// Root) and never moved once pushed, so their address is stable for
// the lifetime they're rooted — this is what makes them a valid
// Visitor.Trace target across a moving collection.
type Cell struct {
	slot unsafe.Pointer
	prev *Cell
}

// ShadowStack is a per-mutator linked list of root cells. It is owned
// exclusively by the mutator thread that pushes/pops it; the collector
// only ever reads it, and only at a safepoint with the mutator stopped.
type ShadowStack struct {
	top *Cell
}

// Depth reports how many cells are currently rooted, for diagnostics
// and tests; it is not needed by the collector itself.
func (s *ShadowStack) Depth() int {
	n := 0
	for c := s.top; c != nil; c = c.prev {
		n++
	}
	return n
}

// Walk presents every rooted slot to v. The collector calls this
// during root discovery; it must never be called concurrently with a
// push/pop from the mutator (the heap facade guarantees the mutator is
// stopped for the duration of a collection).
func (s *ShadowStack) Walk(v Visitor) {
	for c := s.top; c != nil; c = c.prev {
		v.Trace(&c.slot)
	}
}

func (s *ShadowStack) push(c *Cell) {
	c.prev = s.top
	s.top = c
}

// pop removes c from the stack. c must be the current top — the
// shadow stack is strictly LIFO, matching lexical scope nesting; a
// non-LIFO pop means a scope was released out of order, which is a
// rooting-contract violation and panics immediately rather than
// silently corrupting the stack.
func (s *ShadowStack) pop(c *Cell) {
	if s.top != c {
		panic("rooting: shadow stack cell released out of order (non-lexical Root/release pairing)")
	}
	s.top = c.prev
}
