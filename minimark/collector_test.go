package minimark

import (
	"testing"
	"unsafe"

	"github.com/Starlight-JS/comet/gcinfo"
	"github.com/Starlight-JS/comet/objheader"
	"github.com/Starlight-JS/comet/rooting"
)

// node is a tiny linked-list cell used to exercise tracing, identical
// in shape to the one immix's own tests use.
type node struct {
	next unsafe.Pointer
}

func nodeTrace(v objheader.Visitor, obj unsafe.Pointer) {
	n := (*node)(obj)
	v.Trace(&n.next)
}

type testHarness struct {
	nursery     *Nursery
	old         *OldSpace
	cards       *CardTable
	gc          *gcinfo.Table
	constraints *rooting.ConstraintList
	weak        *rooting.WeakTable
	stack       *rooting.ShadowStack
	alloc       *Allocator
	collector   *Collector
	nodeIdx     uint16
}

func newHarness(t *testing.T, nurserySize uintptr) *testHarness {
	nursery := NewNursery(nurserySize)
	old := NewOldSpace(newTestAllocator())
	cards := NewCardTable()
	gc := gcinfo.NewTable()
	idx, err := gc.Add(gcinfo.Entry{Trace: nodeTrace})
	if err != nil {
		t.Fatalf("gc.Add: %v", err)
	}
	constraints := &rooting.ConstraintList{}
	stack := &rooting.ShadowStack{}
	constraints.Add(&rooting.ShadowStackConstraint{Stack: stack})
	weak := &rooting.WeakTable{}
	alloc := NewAllocator(nursery, old)
	collector := NewCollector(nursery, old, cards, gc, constraints, weak, DefaultConfig())
	return &testHarness{nursery: nursery, old: old, cards: cards, gc: gc, constraints: constraints, weak: weak, stack: stack, alloc: alloc, collector: collector, nodeIdx: idx}
}

func (h *testHarness) newNode() *objheader.Header {
	hdr := h.alloc.Alloc(unsafe.Sizeof(node{}))
	hdr.SetGCInfoIndex(h.nodeIdx)
	return hdr
}

func (h *testHarness) set(owner *objheader.Header, slot *unsafe.Pointer, v unsafe.Pointer) {
	*slot = v
	WriteBarrier(h.old, h.cards, owner, unsafe.Pointer(slot))
}

func TestMinorCollectPromotesRootedObject(t *testing.T) {
	h := newHarness(t, 4096)
	a := h.newNode()
	root, release := rooting.Root(h.stack, a.Payload())
	defer release()

	h.collector.MinorCollect()

	if h.old.Len() != 1 {
		t.Fatalf("old.Len() = %d, want 1 after promoting the rooted object", h.old.Len())
	}
	if h.nursery.Contains(uintptr(root.Get())) {
		t.Error("root slot still points into the nursery after promotion")
	}
}

func TestMinorCollectDropsUnrootedObject(t *testing.T) {
	h := newHarness(t, 4096)
	h.newNode()

	h.collector.MinorCollect()

	if h.old.Len() != 0 {
		t.Errorf("old.Len() = %d, want 0 for an unrooted object", h.old.Len())
	}
}

func TestMinorCollectFollowsChainThroughRoot(t *testing.T) {
	h := newHarness(t, 4096)
	a := h.newNode()
	b := h.newNode()
	(*node)(a.Payload()).next = b.Payload()

	root, release := rooting.Root(h.stack, a.Payload())
	defer release()

	h.collector.MinorCollect()

	if h.old.Len() != 2 {
		t.Fatalf("old.Len() = %d, want 2 (both ends of the chain promoted)", h.old.Len())
	}
	promotedA := (*node)(root.Get())
	if h.nursery.Contains(uintptr(promotedA.next)) {
		t.Error("promoted chain's next pointer still points into the nursery")
	}
}

// TestWriteBarrierPreservesYoungObjectReachableOnlyFromOld is the
// signature generational correctness scenario: an old object's field
// is the only path to a young object, and only a write barrier lets
// the next minor collection find it through the remembered set.
func TestWriteBarrierPreservesYoungObjectReachableOnlyFromOld(t *testing.T) {
	h := newHarness(t, 4096)

	old := h.newNode()
	root, release := rooting.Root(h.stack, old.Payload())
	defer release()
	h.collector.MinorCollect() // promotes `old` into old space

	promoted := objheader.HeaderOf(root.Get())
	if !h.old.Contains(unsafe.Pointer(promoted)) {
		t.Fatalf("setup failed: root was not promoted to old space")
	}

	young := h.newNode()
	youngField := &(*node)(promoted.Payload()).next
	h.set(promoted, youngField, young.Payload())

	h.collector.MinorCollect()

	survivorAddr := (*node)(root.Get()).next
	if survivorAddr == nil {
		t.Fatal("young object reachable only via a barriered old->young write was reclaimed")
	}
	if h.nursery.Contains(uintptr(survivorAddr)) {
		t.Error("surviving young object was not promoted out of the nursery")
	}
}

// TestOmittedWriteBarrierLosesYoungObject is the negative half of the
// scenario above: writing the same old->young pointer without calling
// WriteBarrier leaves the card table clean, so the next minor
// collection's remembered-set scan never finds the reference and
// reclaims the young object even though the old object still points
// at its old address.
func TestOmittedWriteBarrierLosesYoungObject(t *testing.T) {
	h := newHarness(t, 4096)

	old := h.newNode()
	root, release := rooting.Root(h.stack, old.Payload())
	defer release()
	h.collector.MinorCollect()

	promoted := objheader.HeaderOf(root.Get())
	young := h.newNode()
	(*node)(promoted.Payload()).next = young.Payload() // no WriteBarrier call

	h.collector.MinorCollect()

	survivorAddr := (*node)(root.Get()).next
	if survivorAddr != nil && !h.nursery.Contains(uintptr(survivorAddr)) {
		t.Fatal("young object survived without a write barrier; scenario no longer demonstrates the hazard")
	}
}

func TestMajorCollectReleasesUnreachablePromotedObject(t *testing.T) {
	h := newHarness(t, 4096)
	a := h.newNode()
	_, release := rooting.Root(h.stack, a.Payload())
	h.collector.MinorCollect()
	if h.old.Len() != 1 {
		t.Fatalf("setup failed: expected one promoted object")
	}
	release()

	stats := h.collector.majorCollect()
	if stats != 1 {
		t.Fatalf("majorCollect released %d, want 1", stats)
	}
	if h.old.Len() != 0 {
		t.Errorf("old.Len() = %d after releasing the only object, want 0", h.old.Len())
	}
}

func TestMajorCollectKeepsReachablePromotedObject(t *testing.T) {
	h := newHarness(t, 4096)
	a := h.newNode()
	root, release := rooting.Root(h.stack, a.Payload())
	defer release()
	h.collector.MinorCollect()

	h.collector.majorCollect()

	if h.old.Len() != 1 {
		t.Errorf("old.Len() = %d, want 1 (rooted object should survive a major collection)", h.old.Len())
	}
	if !h.old.Contains(unsafe.Pointer(objheader.HeaderOf(root.Get()))) {
		t.Error("rooted promoted object no longer tracked after major collection")
	}
}

func TestWeakRefForwardedThroughPromotion(t *testing.T) {
	h := newHarness(t, 4096)
	a := h.newNode()
	root, release := rooting.Root(h.stack, a.Payload())
	defer release()
	w := h.weak.New(a.Payload())

	h.collector.MinorCollect()

	got := w.Upgrade()
	if got == nil {
		t.Fatal("weak reference nulled even though the referent was promoted, not collected")
	}
	if h.nursery.Contains(uintptr(got)) {
		t.Error("weak reference was not forwarded to the promoted object's new address")
	}
	if got != root.Get() {
		t.Errorf("weak reference forwarded to %v, want %v", got, root.Get())
	}
}

func TestAllocLargeObjectGoesDirectlyToOldSpace(t *testing.T) {
	h := newHarness(t, 4096)
	hdr := h.alloc.Alloc(LargeCutoff + 1)
	if !h.old.Contains(unsafe.Pointer(hdr)) {
		t.Error("an allocation above LargeCutoff should start in old space")
	}
	if h.nursery.Used() != 0 {
		t.Error("a large allocation should never touch the nursery")
	}
}

func TestAllocAtExactlyLargeCutoffStaysInNursery(t *testing.T) {
	h := newHarness(t, LargeCutoff*2)
	hdr := h.alloc.Alloc(LargeCutoff)
	if h.old.Contains(unsafe.Pointer(hdr)) {
		t.Error("an allocation of exactly LargeCutoff bytes should not be treated as large")
	}
	if !h.nursery.Contains(uintptr(unsafe.Pointer(hdr))) {
		t.Error("an allocation of exactly LargeCutoff bytes should start in the nursery")
	}
}
