// Package immix implements the mark-region allocator/collector: fixed-size
// blocks carved into lines, hole-bump allocation, and an overflow path for
// objects too big to share a hole with small allocations.
package immix

import (
	"sync"
	"unsafe"

	"github.com/Starlight-JS/comet/objheader"
)

const (
	// BlockSize is the fixed size of an Immix block.
	BlockSize = 32 * 1024
	// LineSize is the granularity at which marks are recorded within a block.
	LineSize = 256
	// LineCount is the number of lines per block.
	LineCount = BlockSize / LineSize
	// MediumCutoff is the largest size that still fits in a single line;
	// above it, allocations use the overflow cursor instead of the hole
	// cursor so they can't pin a hole meant for small objects.
	MediumCutoff = LineSize
	// LargeCutoff is the largest size Immix will allocate itself; above
	// it, objects go to the dedicated large-object space.
	LargeCutoff = BlockSize / 4
)

// lineMark values. Only two states matter to the sweep: marked or not;
// the byte form (rather than a bitset) mirrors the teacher's per-block
// state-byte granularity while keeping per-line code branch-free.
const (
	lineUnmarked byte = 0
	lineMarked   byte = 1
)

// blockStatus classifies a block for the allocator after a sweep.
type blockStatus uint8

const (
	blockFree blockStatus = iota
	blockRecyclable
	blockUnavailable
)

func (s blockStatus) String() string {
	switch s {
	case blockFree:
		return "free"
	case blockRecyclable:
		return "recyclable"
	case blockUnavailable:
		return "unavailable"
	default:
		return "!invalid"
	}
}

// Block is one 32 KiB Immix block: a byte arena plus a per-line mark table
// and bump-allocation state. The arena is a Go-heap-backed slice rather
// than a linker-reserved range (there is no linked-in heapStart/heapEnd
// here), but it plays the exact same role: a region the collector owns
// outright and manages with raw pointer arithmetic, kept alive by this
// struct's own reference to the slice.
type Block struct {
	arena  []byte
	base   uintptr
	marks  [LineCount]byte
	status blockStatus

	// markMu guards marks during the collector's mark phase, where
	// Config.Parallel lets multiple worker goroutines mark objects in
	// the same block concurrently. The mutator never touches marks (it
	// only drives cursor/limit below), so the allocation fast paths
	// take no lock.
	markMu sync.Mutex

	// cursor/limit bound the current hole for small (<= LineSize)
	// allocations; overflowCursor/limit2 are a second, independent bump
	// region for medium allocations.
	cursor, limit          uintptr
	overflowCursor, limit2 uintptr
}

// NewBlock allocates a fresh, free block.
func NewBlock() *Block {
	arena := make([]byte, BlockSize)
	b := &Block{arena: arena, status: blockFree}
	b.base = uintptr(unsafe.Pointer(&arena[0]))
	b.resetCursors()
	return b
}

func (b *Block) resetCursors() {
	b.cursor = b.base
	b.limit = b.base + BlockSize
	b.overflowCursor = b.base
	b.limit2 = b.base + BlockSize
}

// Contains reports whether addr falls inside this block's arena.
func (b *Block) Contains(addr uintptr) bool {
	return addr >= b.base && addr < b.base+BlockSize
}

func (b *Block) lineIndex(addr uintptr) int {
	return int((addr - b.base) / LineSize)
}

func (b *Block) lineAddr(idx int) uintptr {
	return b.base + uintptr(idx)*LineSize
}

// MarkLine marks the line containing addr, and — per the implicit-mark
// rule — the line immediately after it too, so that a small object
// straddling a line boundary can never be mistaken for part of a hole by
// a conservative scan of the following line.
func (b *Block) MarkLine(addr uintptr) {
	idx := b.lineIndex(addr)
	b.marks[idx] = lineMarked
	if idx+1 < LineCount {
		b.marks[idx+1] = lineMarked
	}
}

// LineMarked reports whether the line containing addr is already
// marked. The collector itself does not call it: its "already visited
// this cycle" check for small/medium objects is TryMarkRange, which
// reads and sets the line marks under one lock.
func (b *Block) LineMarked(addr uintptr) bool {
	b.markMu.Lock()
	defer b.markMu.Unlock()
	return b.marks[b.lineIndex(addr)] == lineMarked
}

// TryMarkRange marks every line touched by [addr, addr+size) and
// reports true, unless the line containing addr was already marked,
// in which case it reports false and leaves the marks untouched. The
// check and the marking happen under a single lock so two worker
// goroutines racing to mark the same object during parallel marking
// never both see it as unmarked.
func (b *Block) TryMarkRange(addr, size uintptr) bool {
	b.markMu.Lock()
	defer b.markMu.Unlock()
	if b.marks[b.lineIndex(addr)] == lineMarked {
		return false
	}
	b.markRangeLocked(addr, size)
	return true
}

// MarkRange marks every line touched by [addr, addr+size).
func (b *Block) MarkRange(addr uintptr, size uintptr) {
	b.markMu.Lock()
	defer b.markMu.Unlock()
	b.markRangeLocked(addr, size)
}

func (b *Block) markRangeLocked(addr, size uintptr) {
	start := b.lineIndex(addr)
	end := b.lineIndex(addr + size - 1)
	for i := start; i <= end && i < LineCount; i++ {
		b.marks[i] = lineMarked
	}
	if end+1 < LineCount {
		b.marks[end+1] = lineMarked
	}
}

// ClearMarks resets every line mark, done at the start of a collection
// cycle before transitive marking begins.
func (b *Block) ClearMarks() {
	for i := range b.marks {
		b.marks[i] = lineUnmarked
	}
}

// nextHole scans forward from `from` for the next maximal run of
// unmarked lines, returning its [start, end) byte bounds. ok is false
// if no hole remains in the block.
func (b *Block) nextHole(from uintptr) (start, end uintptr, ok bool) {
	idx := b.lineIndex(from)
	if idx >= LineCount {
		return 0, 0, false
	}
	for idx < LineCount && b.marks[idx] == lineMarked {
		idx++
	}
	if idx >= LineCount {
		return 0, 0, false
	}
	holeStart := idx
	for idx < LineCount && b.marks[idx] == lineUnmarked {
		idx++
	}
	return b.lineAddr(holeStart), b.lineAddr(idx), true
}

// bumpSmall tries to satisfy a small (<= LineSize) allocation from the
// current hole, sliding to the next hole in this block when the current
// one is exhausted. It never crosses into another block.
func (b *Block) bumpSmall(size uintptr) unsafe.Pointer {
	size = alignUp(size, objheader.Alignment)
	for {
		if b.cursor+size <= b.limit {
			p := unsafe.Pointer(b.cursor)
			b.cursor += size
			return p
		}
		start, end, ok := b.nextHole(b.limit)
		if !ok {
			return nil
		}
		b.cursor, b.limit = start, end
	}
}

// bumpMedium is the overflow path: a second, independent bump region
// that only ever looks for holes at least size long, so a medium object
// never eats into a hole a following small object could have used.
func (b *Block) bumpMedium(size uintptr) unsafe.Pointer {
	size = alignUp(size, objheader.Alignment)
	for {
		if b.overflowCursor+size <= b.limit2 {
			p := unsafe.Pointer(b.overflowCursor)
			b.overflowCursor += size
			return p
		}
		start, end, ok := b.nextHole(b.limit2)
		if !ok || end-start < size {
			// keep searching past a too-small hole
			if !ok {
				return nil
			}
			b.overflowCursor, b.limit2 = end, end
			continue
		}
		b.overflowCursor, b.limit2 = start, end
	}
}

// zeroUnmarkedLines clears every line this cycle found unmarked, i.e.
// every hole about to be handed back to the bump allocator. A line
// that held a now-garbage object still carries that object's header
// word (mark state, GC-info index, inline size); without this, a
// header that is never reallocated over — reachable only through a
// stale weak reference, say — would keep reporting whatever mark
// state it had at the end of the cycle it died in, since nothing else
// ever revisits it. recompute calls this before reclassifying the
// block; Collector.Collect sweeps blocks only after its weak-reference
// and finalizer passes, so a finalizer still sees the dead object's
// header and payload intact.
func (b *Block) zeroUnmarkedLines() {
	for i, m := range b.marks {
		if m != lineUnmarked {
			continue
		}
		start := i * LineSize
		end := start + LineSize
		if end > len(b.arena) {
			end = len(b.arena)
		}
		clear(b.arena[start:end])
	}
}

// recompute reclassifies the block by hole structure after a sweep:
// no marked lines at all -> free, all lines marked -> unavailable,
// otherwise recyclable (it has at least one usable hole).
func (b *Block) recompute() {
	b.zeroUnmarkedLines()
	var anyMarked, allMarked bool = false, true
	for _, m := range b.marks {
		if m == lineMarked {
			anyMarked = true
		} else {
			allMarked = false
		}
	}
	switch {
	case !anyMarked:
		b.status = blockFree
		b.resetCursors()
	case allMarked:
		b.status = blockUnavailable
	default:
		b.status = blockRecyclable
		// Reset both cursors to the start so the next allocation from
		// this block re-scans for the first hole.
		b.cursor, b.limit = b.base, b.base
		b.overflowCursor, b.limit2 = b.base, b.base
	}
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
