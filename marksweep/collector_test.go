package marksweep

import (
	"testing"
	"unsafe"

	"github.com/Starlight-JS/comet/gcinfo"
	"github.com/Starlight-JS/comet/objheader"
	"github.com/Starlight-JS/comet/rooting"
	"github.com/Starlight-JS/comet/sizeclass"
)

type node struct {
	next unsafe.Pointer
}

func nodeTrace(v objheader.Visitor, obj unsafe.Pointer) {
	n := (*node)(obj)
	v.Trace(&n.next)
}

type harness struct {
	collector *Collector
	stack     *rooting.ShadowStack
	nodeIdx   uint16
}

func newHarness(t *testing.T, finalize objheader.FinalizeFunc) *harness {
	gc := gcinfo.NewTable()
	idx, err := gc.Add(gcinfo.Entry{Trace: nodeTrace, Finalize: finalize})
	if err != nil {
		t.Fatalf("gc.Add: %v", err)
	}
	constraints := &rooting.ConstraintList{}
	stack := &rooting.ShadowStack{}
	constraints.Add(&rooting.ShadowStackConstraint{Stack: stack})
	weak := &rooting.WeakTable{}
	alloc := sizeclass.NewDefaultAllocator(sizeclass.DefaultConfig())
	c := NewCollector(alloc, gc, constraints, weak)
	return &harness{collector: c, stack: stack, nodeIdx: idx}
}

func (h *harness) newNode() *objheader.Header {
	hdr := h.collector.Alloc(unsafe.Sizeof(node{}))
	hdr.SetGCInfoIndex(h.nodeIdx)
	return hdr
}

func TestCollectFreesUnrootedObject(t *testing.T) {
	h := newHarness(t, nil)
	h.newNode()

	h.collector.Collect()

	if h.collector.Len() != 0 {
		t.Errorf("Len() = %d after collecting an unrooted object, want 0", h.collector.Len())
	}
}

func TestCollectKeepsRootedObjectAtTheSameAddress(t *testing.T) {
	h := newHarness(t, nil)
	a := h.newNode()
	addr := a.Payload()

	root, release := rooting.Root(h.stack, addr)
	defer release()

	h.collector.Collect()

	if root.Get() != addr {
		t.Error("a non-moving collector must never change a live object's address")
	}
	if h.collector.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.collector.Len())
	}
}

func TestCollectFollowsChain(t *testing.T) {
	h := newHarness(t, nil)
	a := h.newNode()
	b := h.newNode()
	(*node)(a.Payload()).next = b.Payload()

	_, release := rooting.Root(h.stack, a.Payload())
	defer release()

	h.collector.Collect()

	if h.collector.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (both ends of the rooted chain)", h.collector.Len())
	}
}

func TestWeakRefNulledWhenReferentDies(t *testing.T) {
	h := newHarness(t, nil)
	a := h.newNode()
	w := h.collector.weak.New(a.Payload())

	h.collector.Collect()

	if got := w.Upgrade(); got != nil {
		t.Errorf("Upgrade() = %v, want nil", got)
	}
}

func TestFinalizerRunsOnceForUnreachableObject(t *testing.T) {
	var finalizedCount int
	h := newHarness(t, func(unsafe.Pointer) { finalizedCount++ })
	a := h.newNode()
	h.collector.RegisterFinalizable(a)

	h.collector.Collect()
	if finalizedCount != 1 {
		t.Fatalf("finalizer ran %d times, want 1", finalizedCount)
	}

	h.collector.Collect()
	if finalizedCount != 1 {
		t.Errorf("finalizer ran again on a later cycle: %d", finalizedCount)
	}
}
