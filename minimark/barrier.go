package minimark

import (
	"unsafe"

	"github.com/Starlight-JS/comet/objheader"
)

// WriteBarrier must be called on every write of a GC pointer into a
// field of an already-allocated object, passing the object's own
// header and the address of the field being written (not the object's
// address). It is unconditional on the old-space side and a no-op
// otherwise: young-to-young and young-to-old writes need no barrier,
// since both are found again by the nursery's own root/Cheney scan;
// only an old object's field pointing at a young object can hide a
// reference the next minor collection would otherwise miss.
//
// Comet does not inject this call at compile time (there is no
// compiler pass to do so); the embedder-facing container library is
// responsible for calling it from every pointer-store API, per the
// spec's write-barrier-placement note. A raw, barrier-less pointer
// store into an old object is undefined behavior.
func WriteBarrier(old *OldSpace, cards *CardTable, owner *objheader.Header, fieldAddr unsafe.Pointer) {
	if !old.Contains(unsafe.Pointer(owner)) {
		return
	}
	cards.Dirty(uintptr(fieldAddr))
}
