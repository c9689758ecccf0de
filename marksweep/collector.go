// Package marksweep implements a minimal non-moving mark-sweep
// collector: every allocation comes from the external size-class
// allocator and stays at a fixed address for its whole life, swept
// when a collection finds it unmarked.
//
// Like semispace, this exists to demonstrate that Comet's rooting,
// GC-info, and weak-reference machinery is policy-agnostic (spec §1,
// §9) — it shares objheader/gcinfo/rooting wholesale with immix and
// minimark, and differs from them only in never moving an object.
//
// Grounded on original_source/src/base.rs's GcBase contract (collect,
// allocate, register_finalizer, shadow_stack) for the shape of the
// collector's public surface, and on gcinfo.Table/rooting.WeakTable
// for the trace/weak/finalize machinery already shared by the other
// two policies.
package marksweep

import (
	"sync"
	"unsafe"

	"github.com/Starlight-JS/comet/gcinfo"
	"github.com/Starlight-JS/comet/objheader"
	"github.com/Starlight-JS/comet/rooting"
	"github.com/Starlight-JS/comet/sizeclass"
)

type object struct {
	ptr  unsafe.Pointer
	size uintptr
}

// Stats summarizes one collection.
type Stats struct {
	Freed     int
	Finalized int
}

// Collector is a non-moving mark-sweep heap: objects never move, so
// there is no forwarding and no evacuation visitor, only a mark bit
// and a sweep.
type Collector struct {
	mu      sync.Mutex
	alloc   sizeclass.Allocator
	objects map[unsafe.Pointer]*object

	gc          *gcinfo.Table
	constraints *rooting.ConstraintList
	weak        *rooting.WeakTable

	gray []*objheader.Header

	finalizableMu sync.Mutex
	finalizable   []*objheader.Header
}

// NewCollector builds a mark-sweep heap backed by alloc.
func NewCollector(alloc sizeclass.Allocator, gc *gcinfo.Table, constraints *rooting.ConstraintList, weak *rooting.WeakTable) *Collector {
	return &Collector{
		alloc:       alloc,
		objects:     make(map[unsafe.Pointer]*object),
		gc:          gc,
		constraints: constraints,
		weak:        weak,
	}
}

// Alloc returns a ready header for a payload of size bytes.
func (c *Collector) Alloc(size uintptr) *objheader.Header {
	total := size + objheader.Size
	ptr := c.alloc.Alloc(total)
	h := (*objheader.Header)(ptr)
	h.SetInlineSize(uint64(size))

	c.mu.Lock()
	c.objects[ptr] = &object{ptr: ptr, size: total}
	c.mu.Unlock()
	return h
}

// RegisterFinalizable marks h for a finalizer callback if it is not
// reachable at the next collection.
func (c *Collector) RegisterFinalizable(h *objheader.Header) {
	c.finalizableMu.Lock()
	c.finalizable = append(c.finalizable, h)
	c.finalizableMu.Unlock()
}

type visitor Collector

func (v *visitor) Trace(slot *unsafe.Pointer) { (*Collector)(v).mark(slot) }
func (v *visitor) TraceConservatively(from, to unsafe.Pointer) {
	start, end := uintptr(from), uintptr(to)
	word := unsafe.Sizeof(start)
	for addr := start; addr+word <= end; addr += word {
		p := (*unsafe.Pointer)(unsafe.Pointer(addr))
		(*Collector)(v).mark(p)
	}
}

func (c *Collector) mark(slot *unsafe.Pointer) {
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

// Collect runs one mark-sweep pass over the whole heap.
func (c *Collector) Collect() Stats {
	c.gray = c.gray[:0]
	v := (*visitor)(c)

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
	c.constraints.RunCycle(v, drain)

	c.weak.Sweep(func(referent unsafe.Pointer) bool {
		return objheader.HeaderOf(referent).State() == objheader.Marked
	})

	finalized := c.runFinalizers()
	freed := c.sweep()

	return Stats{Freed: freed, Finalized: finalized}
}

func (c *Collector) sweep() (freed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ptr, o := range c.objects {
		h := (*objheader.Header)(ptr)
		if h.State() == objheader.Unmarked {
			c.alloc.Free(o.ptr, o.size)
			freed++
			delete(c.objects, ptr)
			continue
		}
		h.SetState(objheader.Unmarked)
	}
	return freed
}

func (c *Collector) runFinalizers() int {
	c.finalizableMu.Lock()
	defer c.finalizableMu.Unlock()

	survivors := c.finalizable[:0]
	finalized := 0
	for _, h := range c.finalizable {
		if h.State() == objheader.Marked {
			survivors = append(survivors, h)
			continue
		}
		entry := c.gc.Get(h.GCInfoIndex())
		if entry != nil && entry.Finalize != nil {
			entry.Finalize(h.Payload())
		}
		finalized++
	}
	c.finalizable = survivors
	return finalized
}

// Len reports how many objects are currently live, for tests and
// diagnostics.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}
