package rooting

import (
	"sync"
	"unsafe"
)

// WeakRef is a slot in the weak-reference side table. It is never
// inlined into the referent or into any other heap object, so its
// slot is visible to the collector independently of whether the
// owning heap object is itself traced — the whole point of a weak
// reference is that holding one must not keep the referent alive.
type WeakRef struct {
	mu       sync.Mutex
	referent unsafe.Pointer
}

// Upgrade returns the referent if it is still live, or nil once the
// collector has determined it is unreachable and nulled the slot.
func (w *WeakRef) Upgrade() unsafe.Pointer {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.referent
}

// WeakTable holds every outstanding WeakRef for a heap. allocate_weak
// inserts into it; the collector walks it once per cycle, after
// marking and before finalizers run, nulling any slot whose referent
// did not survive.
type WeakTable struct {
	mu   sync.Mutex
	refs []*WeakRef
}

// New registers a fresh weak reference to referent.
func (t *WeakTable) New(referent unsafe.Pointer) *WeakRef {
	w := &WeakRef{referent: referent}
	t.mu.Lock()
	t.refs = append(t.refs, w)
	t.mu.Unlock()
	return w
}

// Sweep nulls every slot whose referent isMarked reports as dead, and
// drops those entries from the table afterward (a future Upgrade on a
// caller's own copy of the WeakRef still correctly observes nil; the
// table just stops carrying dead weight). isMarked is supplied by the
// owning collector, since only it knows how to read liveness out of a
// header under its own policy (e.g. MiniMark's minor collection
// forwards the referent rather than marking it in place).
func (t *WeakTable) Sweep(isMarked func(referent unsafe.Pointer) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := t.refs[:0]
	for _, w := range t.refs {
		w.mu.Lock()
		if w.referent != nil && !isMarked(w.referent) {
			w.referent = nil
		}
		stillTracked := w.referent != nil
		w.mu.Unlock()

		if stillTracked {
			live = append(live, w)
		}
	}
	t.refs = live
}

// Forward rewrites every live slot through fwd — used by MiniMark's
// minor collection to move a weak reference's target pointer when its
// referent has been evacuated to old space, without changing liveness.
func (t *WeakTable) Forward(fwd func(referent unsafe.Pointer) unsafe.Pointer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range t.refs {
		w.mu.Lock()
		if w.referent != nil {
			w.referent = fwd(w.referent)
		}
		w.mu.Unlock()
	}
}

// Len reports the number of outstanding weak references, for tests
// and diagnostics.
func (t *WeakTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.refs)
}
