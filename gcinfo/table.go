// Package gcinfo implements the process-wide GC-info table: a compact
// registry mapping a 14-bit index, stamped into every object header,
// to that type's trace/finalize callbacks and an opaque vtable pointer.
// This is what lets the header stay eight bytes instead of carrying a
// language-level dynamic-dispatch mechanism.
//
// Grounded on the teacher's gcLayout table (gclayout.go / gc_precise.go):
// where tinygo packs a small bitmask layout directly into the pointer
// it hands to alloc, Comet's table holds full callbacks instead, since
// the embedder's trace logic is arbitrary Go code, not a fixed bitmap.
package gcinfo

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/Starlight-JS/comet/objheader"
)

// Sentinel index bounds, matching the fixed numeric contract.
const (
	MinIndex       = objheader.MinIndex
	MaxIndex       = objheader.MaxIndex
	InitialCapacity = 512
)

// Entry describes one registered type: its trace and (optional)
// finalize callbacks, plus an opaque vtable pointer the collector
// never dereferences but makes available to embedders that want
// dynamic dispatch on top of Comet's own metadata.
type Entry struct {
	Trace    objheader.TraceFunc
	Finalize objheader.FinalizeFunc
	VTable   unsafe.Pointer
}

// Table is the process-wide registry. Entries are append-only for the
// life of the process and never recycled; a Table is safe for
// concurrent Add/Get from multiple goroutines.
//
// The spec leaves the exact cross-thread visibility scheme open
// (global lock vs. lock-free append with release ordering on the
// length). Comet picks the global-lock reading, same as the rest of
// the teacher's heap-lock style (gcLock in gc_blocks.go): a
// sync.RWMutex guards the backing slice so growth (which reallocates)
// can never race a reader walking the old backing array.
type Table struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewTable creates an empty table with the initial reserved capacity.
// Index 0 is never issued (MinIndex == 1), so a zero Header's index
// field reads as invalid rather than aliasing a real entry.
func NewTable() *Table {
	return &Table{entries: make([]Entry, MinIndex, InitialCapacity)}
}

// Add appends a new entry and returns its index. It fails once the
// table holds MaxIndex slots, the unused sentinel slot 0 included, so
// at most MaxIndex-1 (16,383) entries are issued; that many distinct
// types is considered ample headroom and running out is a programming
// error, per spec §7.
func (t *Table) Add(e Entry) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := len(t.entries)
	if idx >= MaxIndex {
		return 0, fmt.Errorf("gcinfo: table exhausted at %d entries: %w", MaxIndex, ErrOverflow)
	}
	t.entries = append(t.entries, e)
	return uint16(idx), nil
}

// Get returns the entry at idx, or nil if idx is out of the valid
// range [MinIndex, count). Indices below MinIndex are sentinels and
// always report invalid.
func (t *Table) Get(idx uint16) *Entry {
	if idx < MinIndex {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(idx) >= len(t.entries) {
		return nil
	}
	e := t.entries[idx]
	return &e
}

// Len reports how many entries have been added, including the
// reserved sentinel slots below MinIndex.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// ErrOverflow is returned (wrapped) by Add once the table is full.
var ErrOverflow = overflowError{}

type overflowError struct{}

func (overflowError) Error() string { return "gcinfo: MAX_INDEX reached" }
