package objheader

import "unsafe"

// Visitor is the object passed to trace callbacks during marking. It
// is the only thing an embedder's trace function needs to know about:
// push a child header into the visitor to have it considered for
// marking (and, under a moving policy, to have the slot that held it
// rewritten to the object's new address).
type Visitor interface {
	// Trace enqueues the header referenced by *slot for marking.
	// Implementations that move objects rewrite *slot in place once
	// the referent's new address is known, which is why Trace takes
	// the address of the pointer field rather than its value: the
	// embedder's trace callback must pass &obj.Field, not obj.Field.
	Trace(slot *unsafe.Pointer)

	// TraceConservatively scans the byte range [from, to) for values
	// that look like live heap pointers and traces any that resolve
	// to a real header. It exists for the built-in conservative
	// fallback constraint; neither Immix nor MiniMark's own root
	// discovery uses it.
	TraceConservatively(from, to unsafe.Pointer)
}

// TraceFunc is the per-type tracing callback stored in a GC-info
// entry. obj is a pointer to the object's payload (not its header).
type TraceFunc func(v Visitor, obj unsafe.Pointer)

// FinalizeFunc is the per-type finalization callback stored in a
// GC-info entry. obj is a pointer to the object's payload. Finalizers
// run at most once per object and must not allocate on the heap being
// collected or resurrect obj by storing it somewhere reachable.
type FinalizeFunc func(obj unsafe.Pointer)
