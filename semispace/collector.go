package semispace

import (
	"sync"
	"unsafe"

	"github.com/Starlight-JS/comet/gcinfo"
	"github.com/Starlight-JS/comet/objheader"
	"github.com/Starlight-JS/comet/rooting"
	"github.com/Starlight-JS/comet/sizeclass"
)

// Stats summarizes one collection.
type Stats struct {
	Copied    int
	ReleasedLarge int
	Finalized int
}

// Collector owns the from/to bump spaces, the large-object space, and
// the mark stack driving Cheney-style evacuation. Allocation always
// targets from-space; Collect copies every reachable object into
// to-space and swaps the two.
type Collector struct {
	from, to *bumpSpace
	large    *largeSpace

	gc          *gcinfo.Table
	constraints *rooting.ConstraintList
	weak        *rooting.WeakTable

	gray   []*objheader.Header
	copied int

	finalizableMu sync.Mutex
	finalizable   []*objheader.Header
}

// NewCollector builds a semispace collector with two regions of
// spaceSize bytes each.
func NewCollector(spaceSize uintptr, alloc sizeclass.Allocator, gc *gcinfo.Table, constraints *rooting.ConstraintList, weak *rooting.WeakTable) *Collector {
	return &Collector{
		from:        newBumpSpace(spaceSize),
		to:          newBumpSpace(spaceSize),
		large:       newLargeSpace(alloc),
		gc:          gc,
		constraints: constraints,
		weak:        weak,
	}
}

// RegisterFinalizable marks h for a finalizer callback if it is not
// reachable at the next collection.
func (c *Collector) RegisterFinalizable(h *objheader.Header) {
	c.finalizableMu.Lock()
	c.finalizable = append(c.finalizable, h)
	c.finalizableMu.Unlock()
}

// Alloc returns a ready header for a payload of size bytes, or nil if
// from-space has no room (the caller should Collect and retry).
func (c *Collector) Alloc(size uintptr) *objheader.Header {
	if size > LargeCutoff {
		return c.large.Alloc(size)
	}
	total := size + objheader.Size
	p := c.from.alloc(total)
	if p == nil {
		return nil
	}
	h := (*objheader.Header)(p)
	h.SetInlineSize(uint64(size))
	return h
}

type visitor Collector

func (v *visitor) Trace(slot *unsafe.Pointer) { (*Collector)(v).evacuate(slot) }
func (v *visitor) TraceConservatively(from, to unsafe.Pointer) {
	start, end := uintptr(from), uintptr(to)
	word := unsafe.Sizeof(start)
	for addr := start; addr+word <= end; addr += word {
		p := (*unsafe.Pointer)(unsafe.Pointer(addr))
		(*Collector)(v).evacuate(p)
	}
}

// evacuate is the single operation performed on every pointer found
// during a collection: an already-forwarded from-space object just
// has its forwarding target substituted; an unforwarded from-space
// object is copied into to-space and queued for its own fields to be
// scanned; a large object is marked in place rather than copied;
// anything already in to-space (only possible mid-collection, via the
// mark stack revisiting a slot) is left untouched.
func (c *Collector) evacuate(slot *unsafe.Pointer) {
	p := *slot
	if p == nil {
		return
	}
	h := objheader.HeaderOf(p)
	addr := uintptr(unsafe.Pointer(h))

	if c.to.contains(addr) {
		return
	}

	if !c.from.contains(addr) {
		if c.large.Contains(unsafe.Pointer(h)) {
			if h.State() != objheader.Marked {
				h.SetState(objheader.Marked)
				c.gray = append(c.gray, h)
			}
		}
		return
	}

	if h.State() == objheader.Forwarded {
		*slot = h.ForwardingTarget().Payload()
		return
	}

	total := uintptr(h.InlineSize()) + objheader.Size
	dst := c.to.alloc(total)
	if dst == nil {
		panic("semispace: to-space exhausted mid-collection")
	}
	copy(unsafe.Slice((*byte)(dst), total), unsafe.Slice((*byte)(unsafe.Pointer(h)), total))

	newH := (*objheader.Header)(dst)
	h.SetForwarding(newH)
	*slot = newH.Payload()
	c.gray = append(c.gray, newH)
	c.copied++
}

// Collect runs one full copying collection and swaps the spaces.
func (c *Collector) Collect() Stats {
	c.gray = c.gray[:0]
	c.copied = 0
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

	c.weak.Forward(func(referent unsafe.Pointer) unsafe.Pointer {
		h := objheader.HeaderOf(referent)
		if c.from.contains(uintptr(unsafe.Pointer(h))) && h.State() == objheader.Forwarded {
			return h.ForwardingTarget().Payload()
		}
		return referent
	})
	c.weak.Sweep(func(referent unsafe.Pointer) bool {
		h := objheader.HeaderOf(referent)
		return c.to.contains(uintptr(unsafe.Pointer(h))) || (c.large.Contains(unsafe.Pointer(h)) && h.State() == objheader.Marked)
	})

	finalized := c.runFinalizers()
	releasedLarge := c.large.Sweep()

	c.from.clear()
	c.from, c.to = c.to, c.from

	return Stats{Copied: c.copied, Finalized: finalized, ReleasedLarge: releasedLarge}
}

func (c *Collector) runFinalizers() int {
	c.finalizableMu.Lock()
	defer c.finalizableMu.Unlock()

	survivors := c.finalizable[:0]
	finalized := 0
	for _, h := range c.finalizable {
		if h.State() == objheader.Forwarded {
			survivors = append(survivors, h.ForwardingTarget())
			continue
		}
		if c.large.Contains(unsafe.Pointer(h)) && h.State() == objheader.Marked {
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
