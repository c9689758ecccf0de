package comet

import (
	"log"
	"runtime"
	"sync"
	"unsafe"

	"github.com/Starlight-JS/comet/gcinfo"
	"github.com/Starlight-JS/comet/immix"
	"github.com/Starlight-JS/comet/minimark"
	"github.com/Starlight-JS/comet/objheader"
	"github.com/Starlight-JS/comet/rooting"
	"github.com/Starlight-JS/comet/sizeclass"
)

var (
	initOnce  sync.Once
	processGC *gcinfo.Table
)

// Init performs one-time process init of the GC-info table shared by
// every Heap this process creates, mirroring the teacher's own
// once-per-process heap bookkeeping (initHeap in gc_blocks.go). Safe
// to call more than once; only the first call has an effect.
func Init() {
	initOnce.Do(func() {
		processGC = gcinfo.NewTable()
	})
}

func sharedGCInfoTable() *gcinfo.Table {
	Init()
	return processGC
}

// CollectionStats summarizes the most recently run collection,
// normalized across whichever policy produced it.
type CollectionStats struct {
	FreedBlocks   int
	ReleasedLarge int
	Finalized     int
	Promoted      int
	MajorRan      bool
}

// Heap is one embeddable garbage-collected heap, backed by either the
// Immix or MiniMark policy per its Config.Generational flag. Every
// exported method here is the Go rendering of the embedder API named
// in the external-interfaces contract.
type Heap struct {
	cfg Config

	gc          *gcinfo.Table
	constraints *rooting.ConstraintList
	weak        *rooting.WeakTable
	stack       *rooting.ShadowStack
	globals     *rooting.GlobalsConstraint

	policy Policy

	immixManager    *immix.BlockManager
	immixLarge      *immix.LargeSpace
	immixAlloc      *immix.Allocator
	immixCollector  *immix.Collector

	miniNursery   *minimark.Nursery
	miniOld       *minimark.OldSpace
	miniCards     *minimark.CardTable
	miniAlloc     *minimark.Allocator
	miniCollector *minimark.Collector

	mu               sync.Mutex
	allocatedSinceGC uintptr
	lastStats        CollectionStats
}

// HeapCreate builds a Heap from config, failing per spec §7's
// configuration-violation rule rather than panicking, since this is a
// normal embedder-facing constructor rather than a hot allocation
// path.
func HeapCreate(config Config) (*Heap, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	scCfg := sizeclass.DefaultConfig()
	if config.SizeClassProgression > 1.0 {
		scCfg.Progression = config.SizeClassProgression
	}
	alloc := sizeclass.NewDefaultAllocator(scCfg)
	if config.DumpSizeClasses {
		log.Printf("comet: size classes: %v", alloc.Classes())
	}

	h := &Heap{
		cfg:         config,
		gc:          sharedGCInfoTable(),
		constraints: &rooting.ConstraintList{},
		weak:        &rooting.WeakTable{},
		stack:       &rooting.ShadowStack{},
		globals:     &rooting.GlobalsConstraint{},
	}

	if config.Generational {
		h.policy = PolicyMiniMark
		h.miniNursery = minimark.NewNursery(config.MaxEdenSize)
		h.miniOld = minimark.NewOldSpace(alloc)
		h.miniCards = minimark.NewCardTable()
		h.miniAlloc = minimark.NewAllocator(h.miniNursery, h.miniOld)
		h.miniCollector = minimark.NewCollector(h.miniNursery, h.miniOld, h.miniCards, h.gc, h.constraints, h.weak, minimark.Config{
			OldSpaceGrowthThreshold: orDefault(config.LargeHeapGrowthFactor, 2.0),
			Verbose:                 config.Verbose,
		})
	} else {
		h.policy = PolicyImmix
		blocks := config.HeapSize / ImmixBlockSize
		if blocks < 1 {
			blocks = 1
		}
		h.immixManager = immix.NewBlockManager(orDefault(config.HeapGrowthFactor, 2.0), orDefault(config.HeapGrowthThreshold, 0.8))
		for uintptr(h.immixManager.TotalBlocks()) < blocks {
			h.immixManager.Grow()
		}
		h.immixLarge = immix.NewLargeSpace(alloc)
		h.immixAlloc = immix.NewAllocator(h.immixManager, h.immixLarge)
		workers := config.Workers
		if workers <= 0 {
			workers = runtime.GOMAXPROCS(0)
		}
		h.immixCollector = immix.NewCollector(h.immixManager, h.immixLarge, h.gc, h.constraints, h.weak, immix.Config{
			Parallel: config.Parallel,
			Workers:  workers,
			Verbose:  config.Verbose,
		})
	}

	return h, nil
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

// HeapFree runs one last collection: an ordinary Immix cycle, or a
// MiniMark minor collection followed by a major one. Objects still
// reachable from a root or constraint survive it and are not
// finalized; only Immix runs finalizers, and only for unreachable
// objects. Immix blocks, the MiniMark nursery and surviving objects are
// not returned to the allocator. A Heap must not be used after
// HeapFree returns.
func (h *Heap) HeapFree() {
	switch h.policy {
	case PolicyImmix:
		// Immix has no separate teardown path; this is an ordinary
		// collection cycle.
		h.immixCollector.Collect()
	case PolicyMiniMark:
		h.miniCollector.MinorCollect()
		h.miniCollector.MajorCollect()
	}
}

// AddCoreConstraints installs the default stack/global scanning
// constraints: the heap's own shadow stack and its registered globals
// table. Every Heap should call this once after HeapCreate unless it
// intends to supply every root itself.
func (h *Heap) AddCoreConstraints() {
	h.constraints.Add(&rooting.ShadowStackConstraint{Stack: h.stack})
	h.constraints.Add(h.globals)
}

// AddConstraint installs a custom marking constraint.
func (h *Heap) AddConstraint(c rooting.Constraint) {
	h.constraints.Add(c)
}

// AddGlobal registers a process-lifetime global pointer slot to be
// traced by the core globals constraint every cycle.
func (h *Heap) AddGlobal(slot *unsafe.Pointer) {
	h.globals.AddGlobal(slot)
}

// ShadowStack returns the heap's shadow stack, for use with
// rooting.Root.
func (h *Heap) ShadowStack() *rooting.ShadowStack { return h.stack }

// Collect forces a full collection and returns normalized stats. The
// same stats are retained for later retrieval via LastStats.
func (h *Heap) Collect() CollectionStats {
	h.mu.Lock()
	h.allocatedSinceGC = 0
	h.mu.Unlock()

	var stats CollectionStats
	switch h.policy {
	case PolicyImmix:
		s := h.immixCollector.Collect()
		stats = CollectionStats{FreedBlocks: s.FreedBlocks, ReleasedLarge: s.ReleasedLarge, Finalized: s.Finalized}
	case PolicyMiniMark:
		s := h.miniCollector.MinorCollect()
		released := s.ReleasedOld
		if !s.MajorRan {
			released += h.miniCollector.MajorCollect()
		}
		stats = CollectionStats{Promoted: s.Promoted, MajorRan: true, ReleasedLarge: released}
	default:
		panic("comet: heap has no policy set")
	}

	h.mu.Lock()
	h.lastStats = stats
	h.mu.Unlock()
	return stats
}

// LastStats returns the stats recorded by the most recently completed
// Collect call, or the zero value if none has run yet.
func (h *Heap) LastStats() CollectionStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastStats
}

// CollectIfNecessaryOrDefer opportunistically collects once enough
// bytes have been allocated since the last collection to make one
// worthwhile; otherwise it is a no-op, matching the spec's
// "opportunistic; may be a no-op" description. The threshold is the
// same heap_size the heap was created with, a simple proxy for "about
// one heap's worth of garbage has likely accumulated."
func (h *Heap) CollectIfNecessaryOrDefer() {
	h.mu.Lock()
	due := h.allocatedSinceGC >= h.cfg.HeapSize
	h.mu.Unlock()
	if due {
		h.Collect()
	}
}

// SafepointIfNecessary lets the embedder call into Comet at a point
// where the mutator holds no pointers into the heap outside rooted
// handles, giving the heap a chance to run a deferred collection. It
// is equivalent to CollectIfNecessaryOrDefer; the separate name
// documents intent at call sites (periodic polling vs. a known
// allocation boundary).
func (h *Heap) SafepointIfNecessary() {
	h.CollectIfNecessaryOrDefer()
}

func (h *Heap) recordAllocation(size uintptr) {
	h.mu.Lock()
	h.allocatedSinceGC += size
	h.mu.Unlock()
}

// Allocate creates an object of size bytes stamped with gcInfoIndex,
// returning nil if the heap has no room (the caller may Collect and
// retry, or call AllocateOrFail).
func (h *Heap) Allocate(size uintptr, gcInfoIndex uint16) *objheader.Header {
	var hdr *objheader.Header
	switch h.policy {
	case PolicyImmix:
		hdr = h.immixAlloc.Alloc(size)
	case PolicyMiniMark:
		hdr = h.miniAlloc.Alloc(size)
		if hdr == nil {
			h.miniCollector.MinorCollect()
			hdr = h.miniAlloc.Alloc(size)
		}
	}
	if hdr == nil {
		return nil
	}
	hdr.SetGCInfoIndex(gcInfoIndex)
	if h.policy == PolicyImmix {
		if e := h.gc.Get(gcInfoIndex); e != nil && e.Finalize != nil {
			h.immixCollector.RegisterFinalizable(hdr)
		}
	}
	h.recordAllocation(size)
	return hdr
}

// AllocateOrFail is Allocate, but runs a last-gasp full collection on
// exhaustion and panics with *OutOfMemoryError if that still doesn't
// free enough space, per spec §7.
func (h *Heap) AllocateOrFail(size uintptr, gcInfoIndex uint16) *objheader.Header {
	if hdr := h.Allocate(size, gcInfoIndex); hdr != nil {
		return hdr
	}
	h.Collect()
	if hdr := h.Allocate(size, gcInfoIndex); hdr != nil {
		return hdr
	}
	panic(&OutOfMemoryError{Requested: size})
}

// AllocateWeak registers a weak reference to an already-allocated
// object.
func (h *Heap) AllocateWeak(hdr *objheader.Header) *rooting.WeakRef {
	return h.weak.New(hdr.Payload())
}

// WeakUpgrade returns the referent's current payload pointer if it is
// still live, or nil.
func (h *Heap) WeakUpgrade(w *rooting.WeakRef) unsafe.Pointer {
	return w.Upgrade()
}

// AddGCInfo registers a type's trace/finalize/vtable callbacks and
// returns its index. Panics with *GCInfoOverflowError once the table
// is exhausted, per spec §7 ("abort; programming error").
func (h *Heap) AddGCInfo(entry gcinfo.Entry) uint16 {
	idx, err := h.gc.Add(entry)
	if err != nil {
		panic(&GCInfoOverflowError{MaxIndex: gcinfo.MaxIndex})
	}
	return idx
}

// GetGCInfo returns the registered entry for idx, or nil if idx is
// invalid.
func (h *Heap) GetGCInfo(idx uint16) *gcinfo.Entry {
	return h.gc.Get(idx)
}

// GCSize returns the allocation size in bytes for hdr (its payload size
// rounded up to objheader.Alignment), following forwarding pointers
// first.
func GCSize(hdr *objheader.Header) uint64 {
	return objheader.GCSize(hdr)
}

// Trace presents a single pointer field to v, following whichever
// collector is currently running. It is exposed at the facade level
// so trace callbacks registered via AddGCInfo can be written against
// objheader.Visitor without importing a specific policy package.
func Trace(v objheader.Visitor, slot *unsafe.Pointer) {
	v.Trace(slot)
}

// TraceConservatively presents a byte range to v for conservative
// scanning (spec §4.9); intended only for an embedder-supplied
// rooting.ConservativeRangeConstraint, never for Comet's own root
// discovery.
func TraceConservatively(v objheader.Visitor, from, to unsafe.Pointer) {
	v.TraceConservatively(from, to)
}
