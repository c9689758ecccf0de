package immix

// BlockManager owns every block belonging to one Immix space and hands
// out free or recyclable blocks to the allocator on demand. It plays the
// role the teacher's global freeRanges list plays for the block/tail
// allocator, but at block granularity instead of 4-pointer-block
// granularity, and without the linker-provided heap bounds: blocks are
// ordinary Go-heap-backed arenas created on demand.
type BlockManager struct {
	all         []*Block
	free        []*Block
	recyclable  []*Block

	// growthFactor/growthThreshold mirror the spec's heap_growth_factor
	// and heap_growth_threshold. growthFactor is read only by Grow and
	// growthThreshold only by ShouldGrow; acquireOrGrow consults neither
	// and adds exactly one block when nothing free or recyclable is left.
	growthFactor    float64
	growthThreshold float64
}

// NewBlockManager returns an empty manager. growthFactor and
// growthThreshold follow the heap configuration's Immix growth policy.
func NewBlockManager(growthFactor, growthThreshold float64) *BlockManager {
	return &BlockManager{growthFactor: growthFactor, growthThreshold: growthThreshold}
}

// TotalBlocks reports how many blocks this manager currently owns.
func (m *BlockManager) TotalBlocks() int { return len(m.all) }

// acquire returns a block ready for new allocation: a recyclable block
// if one exists (lines already scanned for holes by recompute), else a
// free block. It returns nil when neither exists and never grows the
// space; acquireOrGrow is the variant that adds a block in that case.
func (m *BlockManager) acquire() *Block {
	if n := len(m.recyclable); n > 0 {
		b := m.recyclable[n-1]
		m.recyclable = m.recyclable[:n-1]
		return b
	}
	if n := len(m.free); n > 0 {
		b := m.free[n-1]
		m.free = m.free[:n-1]
		return b
	}
	return nil
}

// acquireOrGrow is acquire, falling back to allocating a brand new block
// when the manager has nothing free or recyclable left.
func (m *BlockManager) acquireOrGrow() *Block {
	if b := m.acquire(); b != nil {
		return b
	}
	b := NewBlock()
	m.all = append(m.all, b)
	return b
}

// ShouldGrow reports whether the fraction of unavailable blocks exceeds
// the configured growth threshold, meaning the allocator should grow the
// space proactively rather than waiting for exhaustion mid-collection.
func (m *BlockManager) ShouldGrow() bool {
	if len(m.all) == 0 {
		return false
	}
	unavailable := 0
	for _, b := range m.all {
		if b.status == blockUnavailable {
			unavailable++
		}
	}
	return float64(unavailable)/float64(len(m.all)) > m.growthThreshold
}

// Grow multiplies the manager's block count by growthFactor (adding at
// least one block), seeding the new blocks into the free list, and
// returns how many it added.
func (m *BlockManager) Grow() int {
	n := int(float64(len(m.all))*m.growthFactor) - len(m.all)
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		b := NewBlock()
		m.all = append(m.all, b)
		m.free = append(m.free, b)
	}
	return n
}

// ClearAllMarks resets every owned block's line marks ahead of a
// collection cycle's mark phase.
func (m *BlockManager) ClearAllMarks() {
	for _, b := range m.all {
		b.ClearMarks()
	}
}

// BlockFor returns the block containing addr, or nil if addr does not
// fall within any block this manager owns. Collection uses this to map
// a marked header back to the lines it occupies.
func (m *BlockManager) BlockFor(addr uintptr) *Block {
	for _, b := range m.all {
		if b.Contains(addr) {
			return b
		}
	}
	return nil
}

// Sweep reclassifies every block by its post-mark hole structure and
// rebuilds the free/recyclable lists. It returns the number of blocks
// that became entirely free, which the heap reports as
// CollectionStats.FreedBlocks.
func (m *BlockManager) Sweep() (freed int) {
	m.free = m.free[:0]
	m.recyclable = m.recyclable[:0]
	for _, b := range m.all {
		b.recompute()
		switch b.status {
		case blockFree:
			m.free = append(m.free, b)
			freed++
		case blockRecyclable:
			m.recyclable = append(m.recyclable, b)
		}
	}
	return freed
}
