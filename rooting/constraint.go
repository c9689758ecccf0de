package rooting

import (
	"sync"
	"unsafe"
)

// RunsAt is the scheduling slot a marking constraint runs at.
type RunsAt int

const (
	BeforeMark RunsAt = iota
	AfterMark
)

func (r RunsAt) String() string {
	if r == BeforeMark {
		return "BeforeMark"
	}
	return "AfterMark"
}

// Constraint is a long-lived, embedder-supplied root source invoked
// at defined points of each collection.
type Constraint interface {
	// Run pushes roots into the visitor. It may be called more than
	// once per cycle (once per BeforeMark/AfterMark pass) until
	// IsOver reports true.
	Run(v Visitor)

	// IsOver reports whether the constraint is exhausted for this
	// cycle. A constraint that always has a fixed, small root set
	// (e.g. the shadow stack) can simply report true after its first
	// Run; one that amortizes a very large root set across multiple
	// passes reports false until it has fully drained.
	IsOver() bool

	// RunsAt reports the constraint's scheduling slot.
	RunsAt() RunsAt

	// Name identifies the constraint for debug diagnostics.
	Name() string
}

// ConstraintList is the heap's ordered collection of marking
// constraints. It may only be mutated when no collection is active —
// the collector takes a private snapshot at the start of each cycle.
type ConstraintList struct {
	mu          sync.Mutex
	constraints []Constraint
}

// Add installs c. It must not be called while a collection is
// running.
func (l *ConstraintList) Add(c Constraint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.constraints = append(l.constraints, c)
}

// Remove uninstalls c, if present. It must not be called while a
// collection is running.
func (l *ConstraintList) Remove(c Constraint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.constraints {
		if existing == c {
			l.constraints = append(l.constraints[:i], l.constraints[i+1:]...)
			return
		}
	}
}

// snapshot returns the current constraint list. Called once at the
// start of a collection cycle; the collector then iterates the
// snapshot for the rest of the cycle even if, hypothetically, a
// constraint's own Run somehow tried to mutate the list (which it
// must not, per the "mutated only when no collection is active"
// resource rule).
func (l *ConstraintList) snapshot() []Constraint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Constraint(nil), l.constraints...)
}

// RunCycle drives a full BeforeMark/AfterMark schedule against the
// installed constraints, calling drainMarkQueue after each pass and
// stopping once every constraint reports IsOver at the end of a round.
//
// Every constraint with a Reset method has it called once before the
// first pass so constraints that track per-cycle exhaustion
// (ranOnce-style) start fresh.
func (l *ConstraintList) RunCycle(v Visitor, drainMarkQueue func()) {
	cs := l.snapshot()
	for _, c := range cs {
		if r, ok := c.(interface{ Reset() }); ok {
			r.Reset()
		}
	}

	for {
		for _, c := range cs {
			if c.RunsAt() == BeforeMark {
				c.Run(v)
			}
		}
		drainMarkQueue()

		for _, c := range cs {
			if c.RunsAt() == AfterMark {
				c.Run(v)
			}
		}
		drainMarkQueue()

		if allOver(cs) {
			return
		}
	}
}

func allOver(cs []Constraint) bool {
	for _, c := range cs {
		if !c.IsOver() {
			return false
		}
	}
	return true
}

// ShadowStackConstraint adapts a ShadowStack into a Constraint so it
// can be installed like any embedder-supplied root source.
// AddCoreConstraints installs one of these automatically.
type ShadowStackConstraint struct {
	Stack *ShadowStack
	ran   bool
}

func (c *ShadowStackConstraint) Reset()          { c.ran = false }
func (c *ShadowStackConstraint) RunsAt() RunsAt  { return BeforeMark }
func (c *ShadowStackConstraint) Name() string    { return "shadow-stack" }
func (c *ShadowStackConstraint) IsOver() bool     { return c.ran }
func (c *ShadowStackConstraint) Run(v Visitor) {
	c.Stack.Walk(v)
	c.ran = true
}

// GlobalsConstraint traces a fixed set of embedder-registered global
// slots (the "global scanning" half of add_core_constraints). Unlike
// the shadow stack, globals don't come and go with scope, so the
// embedder registers each one once at startup via AddGlobal.
type GlobalsConstraint struct {
	mu      sync.Mutex
	globals []*unsafe.Pointer
	ran     bool
}

// AddGlobal registers a global pointer slot to be traced on every
// cycle for the rest of the process's life.
func (c *GlobalsConstraint) AddGlobal(slot *unsafe.Pointer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globals = append(c.globals, slot)
}

func (c *GlobalsConstraint) Reset()         { c.ran = false }
func (c *GlobalsConstraint) RunsAt() RunsAt { return BeforeMark }
func (c *GlobalsConstraint) Name() string   { return "globals" }
func (c *GlobalsConstraint) IsOver() bool   { return c.ran }
func (c *GlobalsConstraint) Run(v Visitor) {
	c.mu.Lock()
	slots := append([]*unsafe.Pointer(nil), c.globals...)
	c.mu.Unlock()
	for _, slot := range slots {
		v.Trace(slot)
	}
	c.ran = true
}

// ConservativeRangeConstraint traces a set of embedder-registered
// byte ranges conservatively rather than precisely. It backs the
// built-in stack-scanning fallback mentioned in spec §4.9; neither
// Immix nor MiniMark's own root discovery installs or needs it, and
// per §1 conservative stack scanning is explicitly out of scope as a
// *primary* mode — this exists only for an embedder that opts into a
// conservative fallback for a region it cannot root precisely.
type ConservativeRangeConstraint struct {
	mu     sync.Mutex
	ranges [][2]unsafe.Pointer
	ran    bool
}

// PushRange registers [from, to) to be scanned conservatively on every
// subsequent cycle until PopRange removes it.
func (c *ConservativeRangeConstraint) PushRange(from, to unsafe.Pointer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ranges = append(c.ranges, [2]unsafe.Pointer{from, to})
}

// PopRange removes the most recently pushed range.
func (c *ConservativeRangeConstraint) PopRange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.ranges); n > 0 {
		c.ranges = c.ranges[:n-1]
	}
}

func (c *ConservativeRangeConstraint) Reset()         { c.ran = false }
func (c *ConservativeRangeConstraint) RunsAt() RunsAt { return BeforeMark }
func (c *ConservativeRangeConstraint) Name() string   { return "conservative-fallback" }
func (c *ConservativeRangeConstraint) IsOver() bool    { return c.ran }
func (c *ConservativeRangeConstraint) Run(v Visitor) {
	c.mu.Lock()
	ranges := append([][2]unsafe.Pointer(nil), c.ranges...)
	c.mu.Unlock()
	for _, r := range ranges {
		v.TraceConservatively(r[0], r[1])
	}
	c.ran = true
}
