package minimark

import (
	"log"
	"unsafe"

	"github.com/Starlight-JS/comet/gcinfo"
	"github.com/Starlight-JS/comet/objheader"
	"github.com/Starlight-JS/comet/rooting"
)

// Stats summarizes one minor or major collection, surfaced to the heap
// facade's CollectionStats.
type Stats struct {
	Promoted      int
	MajorRan      bool
	ReleasedOld   int
}

// Config controls when a minor collection escalates to a major one.
// OldSpaceGrowthThreshold mirrors the spec's old-space growth policy:
// once old space's byte usage exceeds the threshold recorded at the
// end of the previous major collection (or, before any major has run,
// an initial baseline), the next minor collection is followed
// immediately by a major one.
type Config struct {
	OldSpaceGrowthThreshold float64
	// Verbose gates a log.Printf summary of each minor/major collection,
	// the same println-behind-a-bool idiom the teacher's gcDebug gate
	// uses, routed through the standard logger instead.
	Verbose bool
}

// DefaultConfig matches the fixed numeric contract's default growth
// policy: grow the major-collection trigger point by 2x every time old
// space survives a major collection, the same shape Immix uses for its
// own heap_growth_factor.
func DefaultConfig() Config {
	return Config{OldSpaceGrowthThreshold: 2.0}
}

// Collector drives MiniMark's minor and major collections: nursery
// promotion with a Cheney-style queue (minor), and a mark-sweep pass
// over old space (major), sharing the same gcinfo trace callbacks and
// rooting contract the Immix collector uses.
//
// Unlike Immix's collector, marking here is always single-threaded:
// the spec calls for a Cheney-style sequential scan for the minor
// path, and the major path's mark-sweep over old space is small and
// infrequent enough (run by MinorCollect only past a growth threshold,
// otherwise only on an explicit MajorCollect) that the
// added complexity of a parallel worklist buys nothing a generational
// collector's workload would ever exercise.
type Collector struct {
	nursery     *Nursery
	old         *OldSpace
	cards       *CardTable
	gc          *gcinfo.Table
	constraints *rooting.ConstraintList
	weak        *rooting.WeakTable

	cfg Config

	gray []*objheader.Header

	majorThreshold uintptr
}

// NewCollector wires a Collector over the given nursery, old space,
// card table, GC-info table, constraint list, and weak-reference
// table.
func NewCollector(nursery *Nursery, old *OldSpace, cards *CardTable, gc *gcinfo.Table, constraints *rooting.ConstraintList, weak *rooting.WeakTable, cfg Config) *Collector {
	return &Collector{nursery: nursery, old: old, cards: cards, gc: gc, constraints: constraints, weak: weak, cfg: cfg, majorThreshold: nursery.Capacity()}
}

// minorVisitor adapts *Collector to objheader.Visitor for the minor
// collection's root and remembered-set scans: Trace forwards a young
// referent to old space (promoting it on first sight) and rewrites
// the slot in place; an already-old referent is left untouched.
type minorVisitor Collector

func (v *minorVisitor) Trace(slot *unsafe.Pointer) { (*Collector)(v).forwardSlot(slot) }
func (v *minorVisitor) TraceConservatively(from, to unsafe.Pointer) {
	// MiniMark's own root discovery never needs conservative scanning;
	// this exists only to satisfy objheader.Visitor for constraints
	// that might be shared with a conservative-fallback setup.
	start, end := uintptr(from), uintptr(to)
	word := unsafe.Sizeof(start)
	for addr := start; addr+word <= end; addr += word {
		p := (*unsafe.Pointer)(unsafe.Pointer(addr))
		(*Collector)(v).forwardSlot(p)
	}
}

func (c *Collector) minorVisitorIface() objheader.Visitor { return (*minorVisitor)(c) }

// forwardSlot is the single operation minor collection performs on
// every pointer it finds, whether from a root, the remembered set, or
// the Cheney queue: if the referent is young and unforwarded, promote
// it and queue its own fields for scanning; if already forwarded,
// just follow the existing forwarding entry; if the referent is
// already in old space, do nothing.
func (c *Collector) forwardSlot(slot *unsafe.Pointer) {
	p := *slot
	if p == nil {
		return
	}
	h := objheader.HeaderOf(p)
	addr := uintptr(unsafe.Pointer(h))

	if !c.nursery.Contains(addr) {
		return
	}

	if h.State() == objheader.Forwarded {
		*slot = h.ForwardingTarget().Payload()
		return
	}

	newH := c.old.Promote(h)
	h.SetForwarding(newH)
	*slot = newH.Payload()
	c.gray = append(c.gray, newH)
}

// MinorCollect runs one minor collection: root-driven promotion,
// remembered-set forwarding, and a Cheney-style drain of every object
// promoted along the way. If old space's usage has grown past the
// configured threshold since the last major collection, it runs a
// major collection immediately afterward, matching the spec's
// "triggered when old space exceeds threshold after a minor" rule.
func (c *Collector) MinorCollect() Stats {
	c.gray = c.gray[:0]
	startLen := c.old.Len()

	v := c.minorVisitorIface()
	drain := func() {
		for len(c.gray) > 0 {
			h := c.gray[len(c.gray)-1]
			c.gray = c.gray[:len(c.gray)-1]
			entry := c.gc.Get(h.GCInfoIndex())
			if entry == nil || entry.Trace == nil {
				continue
			}
			entry.Trace(v, h.Payload())
		}
	}

	c.old.ForEachDirty(c.cards, func(h *objheader.Header) {
		entry := c.gc.Get(h.GCInfoIndex())
		if entry == nil || entry.Trace == nil {
			return
		}
		entry.Trace(v, h.Payload())
	})

	c.constraints.RunCycle(v, drain)

	c.weak.Forward(func(referent unsafe.Pointer) unsafe.Pointer {
		h := objheader.HeaderOf(referent)
		if c.nursery.Contains(uintptr(unsafe.Pointer(h))) && h.State() == objheader.Forwarded {
			return h.ForwardingTarget().Payload()
		}
		return referent
	})

	c.nursery.Reset()
	c.cards.ClearAll()

	promoted := c.old.Len() - startLen
	stats := Stats{Promoted: promoted}

	if float64(c.old.InUse()) > float64(c.majorThreshold) {
		released := c.majorCollect()
		stats.MajorRan = true
		stats.ReleasedOld = released
		c.majorThreshold = uintptr(float64(c.old.InUse()+1) * c.cfg.OldSpaceGrowthThreshold)
	}

	if c.cfg.Verbose {
		log.Printf("minimark: minor collect: promoted=%d major_ran=%t released_old=%d", stats.Promoted, stats.MajorRan, stats.ReleasedOld)
	}
	return stats
}

// MajorCollect forces an immediate mark-sweep pass over old space,
// independent of the growth-threshold check MinorCollect otherwise
// uses to decide whether one is due. Exposed for callers (such as the
// heap facade's Collect and HeapFree) that need dead old-space objects
// released without waiting on the growth heuristic. MiniMark keeps no
// finalizer registry, so no finalizer runs here.
func (c *Collector) MajorCollect() int {
	released := c.majorCollect()
	if c.cfg.Verbose {
		log.Printf("minimark: major collect: released_old=%d", released)
	}
	return released
}

// majorVisitor adapts *Collector for the major collection's mark
// phase: Trace marks an old-space header live (if not already) and
// pushes it onto the mark worklist.
type majorVisitor Collector

func (v *majorVisitor) Trace(slot *unsafe.Pointer) { (*Collector)(v).markOld(slot) }
func (v *majorVisitor) TraceConservatively(from, to unsafe.Pointer) {}

func (c *Collector) markOld(slot *unsafe.Pointer) {
	p := *slot
	if p == nil {
		return
	}
	h := objheader.HeaderOf(p)
	if h.State() == objheader.Marked {
		return
	}
	h.SetState(objheader.Marked)
	c.gray = append(c.gray, h)
}

// majorCollect runs a standard mark-sweep pass over old space, reusing
// the same gcinfo trace callbacks promotion and the remembered-set
// scan use. It assumes it is only ever called right after a minor
// collection has emptied the nursery and forwarded every reachable
// young object, so tracing from roots alone is sufficient to reach
// everything live.
func (c *Collector) majorCollect() int {
	c.gray = c.gray[:0]
	v := (*majorVisitor)(c)

	c.constraints.RunCycle(v, func() {
		for len(c.gray) > 0 {
			h := c.gray[len(c.gray)-1]
			c.gray = c.gray[:len(c.gray)-1]
			entry := c.gc.Get(h.GCInfoIndex())
			if entry == nil || entry.Trace == nil {
				continue
			}
			entry.Trace(v, h.Payload())
		}
	})

	c.weak.Sweep(func(referent unsafe.Pointer) bool {
		return objheader.HeaderOf(referent).State() == objheader.Marked
	})

	return c.old.MajorSweep()
}
