package immix

import (
	"testing"
	"unsafe"

	"github.com/Starlight-JS/comet/gcinfo"
	"github.com/Starlight-JS/comet/objheader"
	"github.com/Starlight-JS/comet/rooting"
	"github.com/Starlight-JS/comet/sizeclass"
)

// node is a tiny two-field linked-list cell used to exercise tracing.
type node struct {
	next unsafe.Pointer
}

func nodeTrace(v objheader.Visitor, obj unsafe.Pointer) {
	n := (*node)(obj)
	v.Trace(&n.next)
}

type testHarness struct {
	manager     *BlockManager
	large       *LargeSpace
	gc          *gcinfo.Table
	constraints *rooting.ConstraintList
	weak        *rooting.WeakTable
	stack       *rooting.ShadowStack
	alloc       *Allocator
	collector   *Collector
	nodeIdx     uint16
}

func newHarness(t *testing.T, finalize objheader.FinalizeFunc) *testHarness {
	manager := NewBlockManager(1.0, 0.8)
	large := NewLargeSpace(sizeclass.NewDefaultAllocator(sizeclass.DefaultConfig()))
	gc := gcinfo.NewTable()
	idx, err := gc.Add(gcinfo.Entry{Trace: nodeTrace, Finalize: finalize})
	if err != nil {
		t.Fatalf("gc.Add: %v", err)
	}
	constraints := &rooting.ConstraintList{}
	stack := &rooting.ShadowStack{}
	constraints.Add(&rooting.ShadowStackConstraint{Stack: stack})
	weak := &rooting.WeakTable{}
	alloc := NewAllocator(manager, large)
	collector := NewCollector(manager, large, gc, constraints, weak, DefaultConfig())
	return &testHarness{manager: manager, large: large, gc: gc, constraints: constraints, weak: weak, stack: stack, alloc: alloc, collector: collector, nodeIdx: idx}
}

func (h *testHarness) newNode() *objheader.Header {
	hdr := h.alloc.Alloc(unsafe.Sizeof(node{}))
	hdr.SetGCInfoIndex(h.nodeIdx)
	return hdr
}

func TestCollectFreesUnrootedChain(t *testing.T) {
	h := newHarness(t, nil)

	a := h.newNode()
	b := h.newNode()
	(*node)(a.Payload()).next = b.Payload()

	root, release := rooting.Root(h.stack, a.Payload())
	_ = root
	release() // nothing rooted when we collect

	h.collector.Collect()

	block := h.manager.BlockFor(uintptr(unsafe.Pointer(a)))
	if block == nil {
		t.Fatalf("could not find block for a")
	}
	if block.status != blockFree {
		t.Errorf("block containing an unrooted chain classified as %v, want free", block.status)
	}
}

func TestCollectKeepsRootedChainReachable(t *testing.T) {
	h := newHarness(t, nil)

	a := h.newNode()
	b := h.newNode()
	(*node)(a.Payload()).next = b.Payload()

	root, release := rooting.Root(h.stack, a.Payload())
	defer release()
	_ = root

	h.collector.Collect()

	block := h.manager.BlockFor(uintptr(unsafe.Pointer(a)))
	if block.status == blockFree {
		t.Errorf("block holding a reachable rooted object was classified free")
	}
}

func TestWeakRefNulledWhenReferentDies(t *testing.T) {
	h := newHarness(t, nil)
	a := h.newNode()
	w := h.weak.New(a.Payload())

	h.collector.Collect()

	if got := w.Upgrade(); got != nil {
		t.Errorf("Upgrade() = %v, want nil after referent died", got)
	}
}

func TestWeakRefSurvivesWhenReferentRooted(t *testing.T) {
	h := newHarness(t, nil)
	a := h.newNode()
	w := h.weak.New(a.Payload())

	root, release := rooting.Root(h.stack, a.Payload())
	defer release()
	_ = root

	h.collector.Collect()

	if got := w.Upgrade(); got != a.Payload() {
		t.Errorf("Upgrade() = %v, want %v", got, a.Payload())
	}
}

func TestWeakRefNulledAfterSurvivingOneCollectionThenDying(t *testing.T) {
	h := newHarness(t, nil)
	a := h.newNode()
	w := h.weak.New(a.Payload())

	root, release := rooting.Root(h.stack, a.Payload())
	_ = root
	h.collector.Collect()
	if got := w.Upgrade(); got == nil {
		t.Fatal("Upgrade() = nil, want non-nil while the referent is still rooted")
	}

	release() // nothing rooted on the next collection
	h.collector.Collect()

	if got := w.Upgrade(); got != nil {
		t.Errorf("Upgrade() = %v, want nil: a's header must not keep a stale Marked state from the previous cycle", got)
	}
}

func TestFinalizerRunsOnceForUnreachableObject(t *testing.T) {
	var finalizedCount int
	h := newHarness(t, func(obj unsafe.Pointer) { finalizedCount++ })
	a := h.newNode()
	h.collector.RegisterFinalizable(a)

	h.collector.Collect()
	if finalizedCount != 1 {
		t.Fatalf("finalizer ran %d times, want 1", finalizedCount)
	}

	h.collector.Collect()
	if finalizedCount != 1 {
		t.Errorf("finalizer ran again on a second cycle: %d", finalizedCount)
	}
}

func TestFinalizerDoesNotRunForReachableObject(t *testing.T) {
	var finalizedCount int
	h := newHarness(t, func(obj unsafe.Pointer) { finalizedCount++ })
	a := h.newNode()
	h.collector.RegisterFinalizable(a)

	root, release := rooting.Root(h.stack, a.Payload())
	defer release()
	_ = root

	h.collector.Collect()
	if finalizedCount != 0 {
		t.Errorf("finalizer ran on a reachable object")
	}
}

func TestLargeObjectReleasedWhenUnreachable(t *testing.T) {
	h := newHarness(t, nil)
	hdr := h.alloc.Alloc(LargeCutoff + 1)
	hdr.SetGCInfoIndex(h.nodeIdx)
	if h.large.Len() != 1 {
		t.Fatalf("expected the allocation to land in the large space")
	}

	h.collector.Collect()
	if h.large.Len() != 0 {
		t.Errorf("unreachable large object was not released")
	}
}

func TestParallelCollectMatchesSequential(t *testing.T) {
	h := newHarness(t, nil)
	h.collector.cfg = Config{Parallel: true, Workers: 4}

	var prev unsafe.Pointer
	root, release := rooting.Root(h.stack, nil)
	defer release()
	for i := 0; i < 50; i++ {
		hdr := h.newNode()
		(*node)(hdr.Payload()).next = prev
		prev = hdr.Payload()
	}
	root.Set(prev)

	h.collector.Collect()

	block := h.manager.BlockFor(uintptr(root.Get()))
	if block == nil || block.status == blockFree {
		t.Errorf("parallel collection lost a reachable chain")
	}
}
