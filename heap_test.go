package comet

import (
	"testing"
	"unsafe"

	"github.com/Starlight-JS/comet/gcinfo"
	"github.com/Starlight-JS/comet/objheader"
	"github.com/Starlight-JS/comet/rooting"
)

type node struct {
	next unsafe.Pointer
}

func nodeTrace(v objheader.Visitor, obj unsafe.Pointer) {
	n := (*node)(obj)
	v.Trace(&n.next)
}

func newNodeHeap(t *testing.T, generational bool) (*Heap, uint16) {
	cfg := DefaultConfig()
	cfg.Generational = generational
	h, err := HeapCreate(cfg)
	if err != nil {
		t.Fatalf("HeapCreate: %v", err)
	}
	h.AddCoreConstraints()
	idx := h.AddGCInfo(gcinfo.Entry{Trace: nodeTrace})
	return h, idx
}

func TestHeapCreateRejectsOversizedHeap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHeapSize = 1024
	cfg.HeapSize = 2048
	if _, err := HeapCreate(cfg); err == nil {
		t.Fatal("expected HeapCreate to reject heap_size > max_heap_size")
	}
}

func TestImmixAllocateAndCollectReclaimsUnrooted(t *testing.T) {
	h, idx := newNodeHeap(t, false)
	hdr := h.Allocate(unsafe.Sizeof(node{}), idx)
	if hdr == nil {
		t.Fatal("Allocate returned nil")
	}
	w := h.AllocateWeak(hdr)

	h.Collect()

	if got := h.WeakUpgrade(w); got != nil {
		t.Errorf("WeakUpgrade() = %v, want nil after an unrooted object's collection", got)
	}
}

func TestImmixRootedObjectSurvivesCollection(t *testing.T) {
	h, idx := newNodeHeap(t, false)
	hdr := h.Allocate(unsafe.Sizeof(node{}), idx)
	root, release := rooting.Root(h.ShadowStack(), hdr.Payload())
	defer release()

	h.Collect()

	if root.Get() == nil {
		t.Error("rooted object's slot went nil across a collection")
	}
}

func TestMiniMarkAllocateAndPromote(t *testing.T) {
	h, idx := newNodeHeap(t, true)
	hdr := h.Allocate(unsafe.Sizeof(node{}), idx)
	root, release := rooting.Root(h.ShadowStack(), hdr.Payload())
	defer release()

	stats := h.Collect()
	if stats.Promoted != 1 {
		t.Errorf("Promoted = %d, want 1 for a rooted young object", stats.Promoted)
	}
	if root.Get() == nil {
		t.Error("rooted object's slot went nil across a minor collection")
	}
}

func TestMiniMarkUnrootedObjectNotPromoted(t *testing.T) {
	h, idx := newNodeHeap(t, true)
	h.Allocate(unsafe.Sizeof(node{}), idx)

	stats := h.Collect()
	if stats.Promoted != 0 {
		t.Errorf("Promoted = %d, want 0 for an unrooted young object", stats.Promoted)
	}
}

func TestAddGCInfoPanicsOnOverflow(t *testing.T) {
	h, _ := newNodeHeap(t, false)
	h.gc = gcinfo.NewTable() // fresh table this test owns exclusively
	for {
		_, err := h.gc.Add(gcinfo.Entry{Trace: nodeTrace})
		if err != nil {
			break
		}
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected AddGCInfo to panic once the table is exhausted")
		} else if _, ok := r.(*GCInfoOverflowError); !ok {
			t.Errorf("panic value is %T, want *GCInfoOverflowError", r)
		}
	}()
	h.AddGCInfo(gcinfo.Entry{Trace: nodeTrace})
}

func TestGCInfoRoundTrip(t *testing.T) {
	h, idx := newNodeHeap(t, false)
	entry := h.GetGCInfo(idx)
	if entry == nil || entry.Trace == nil {
		t.Fatal("GetGCInfo did not return the registered entry")
	}
}

func TestGCSizeMeetsMinimumAlignment(t *testing.T) {
	h, idx := newNodeHeap(t, false)
	hdr := h.Allocate(3, idx)
	if hdr == nil {
		t.Fatal("Allocate returned nil")
	}
	if GCSize(hdr) < 3 {
		t.Errorf("GCSize() = %d, want >= requested size 3", GCSize(hdr))
	}
	if GCSize(hdr)%uint64(objheader.Alignment) != 0 {
		t.Errorf("GCSize() = %d, want a multiple of %d", GCSize(hdr), objheader.Alignment)
	}
}

func TestLastStatsReflectsMostRecentCollection(t *testing.T) {
	h, idx := newNodeHeap(t, false)
	h.Allocate(unsafe.Sizeof(node{}), idx)

	if got := h.LastStats(); got != (CollectionStats{}) {
		t.Errorf("LastStats() = %+v before any Collect, want the zero value", got)
	}

	stats := h.Collect()
	if got := h.LastStats(); got != stats {
		t.Errorf("LastStats() = %+v, want %+v (the value Collect just returned)", got, stats)
	}
}

func TestCollectIfNecessaryOrDeferIsNoopBelowThreshold(t *testing.T) {
	h, idx := newNodeHeap(t, false)
	h.Allocate(unsafe.Sizeof(node{}), idx)
	before := h.immixManager.TotalBlocks()
	h.CollectIfNecessaryOrDefer()
	after := h.immixManager.TotalBlocks()
	if before != after {
		t.Errorf("CollectIfNecessaryOrDefer grew the heap below threshold: %d -> %d", before, after)
	}
	if got := h.LastStats(); got != (CollectionStats{}) {
		t.Errorf("LastStats() = %+v after CollectIfNecessaryOrDefer below threshold, want the zero value (no collection)", got)
	}
}
