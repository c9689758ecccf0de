// Package comet is an embeddable library of precise tracing garbage
// collectors: an Immix mark-region allocator/collector, a MiniMark
// generational collector, the precise-rooting machinery (shadow
// stack, scoped root handles, weak references, marking constraints)
// both share, and the per-type GC-info metadata table that lets a
// header stay a single machine word.
//
// Grounded on the teacher's gc_blocks.go as the single entry point a
// hosted runtime links against (alloc/free/GC/SetFinalizer): Heap here
// plays the same role as tinygo's package-level GC state, generalized
// to something an embedder constructs and can run more than one of in
// a process, and parameterized over which policy (Immix or MiniMark)
// backs it instead of a single compiled-in collector.
package comet

// Fixed numeric contract every Comet policy is built against.
const (
	ImmixBlockSize           = 32768
	LineSize                 = 256
	LineCount                = 128
	LargeCutoff              = 8192 // ImmixBlockSize / 4
	MediumCutoff             = 256  // == LineSize
	BlockSize                = 16384 // generic small-block, MarkSweep
	CardShift                = 10    // 1 KiB per card
	CardClean                = 0
	CardDirty                = 112
	GCInfoMinIndex           = 1
	GCInfoMaxIndex           = 16384 // 1 << 14
	GCInfoInitialWantedLimit = 512
)

// Policy selects which collector backs a Heap.
type Policy int

const (
	// PolicyImmix selects the mark-region allocator/collector.
	PolicyImmix Policy = iota
	// PolicyMiniMark selects the generational nursery/old-space
	// collector.
	PolicyMiniMark
)

func (p Policy) String() string {
	switch p {
	case PolicyImmix:
		return "immix"
	case PolicyMiniMark:
		return "minimark"
	default:
		return "invalid"
	}
}

// Config holds every recognized embedder-facing option named in the
// external-interfaces contract. Not every field applies to every
// Policy; a field a chosen policy ignores is simply unused, not an
// error.
type Config struct {
	// Generational selects MiniMark when true, Immix when false. This
	// is the Go expression of the spec's "generational" config option:
	// rather than a string policy name, the bool reads directly as
	// the option it's named after.
	Generational bool

	// HeapGrowthFactor multiplies Immix's reserved block count each
	// time BlockManager.Grow runs; HeapCreate grows this way until
	// HeapSize is reserved.
	HeapGrowthFactor float64
	// HeapGrowthThreshold is the unavailable-block fraction that
	// BlockManager.ShouldGrow compares against. The allocation path does
	// not consult ShouldGrow: when no free or recyclable block is left it
	// adds exactly one new block.
	HeapGrowthThreshold float64

	// LargeHeapGrowthFactor is the multiplier MiniMark applies to its
	// major-collection trigger after each major collection.
	// LargeHeapGrowthThreshold is accepted but read by neither policy,
	// and Immix's large-object space has no growth policy of its own.
	LargeHeapGrowthFactor    float64
	LargeHeapGrowthThreshold float64

	// DumpSizeClasses, when true, logs the size-class table once at
	// HeapCreate.
	DumpSizeClasses bool
	// SizeClassProgression is the geometric factor between adjacent
	// size classes in the external size-class allocator.
	SizeClassProgression float64

	// HeapSize is the initial heap reservation in bytes.
	HeapSize uintptr
	// MaxHeapSize is checked only by HeapCreate, which fails if HeapSize
	// exceeds it; zero disables the check. Block growth and large-object
	// allocation after HeapCreate do not consult it.
	MaxHeapSize uintptr
	// MaxEdenSize is MiniMark's nursery capacity.
	MaxEdenSize uintptr

	// Verbose emits per-collection diagnostics through the standard log
	// package.
	Verbose bool

	// Parallel enables Immix's optional parallel marking.
	Parallel bool
	// Workers caps the number of parallel mark workers; zero means
	// GOMAXPROCS.
	Workers int
}

// DefaultConfig returns a populated, internally consistent Config: the
// same shape the spec's default_config names, with values chosen to
// match the fixed numeric contract's defaults and the growth-policy
// defaults already recorded in DESIGN.md for immix and minimark.
func DefaultConfig() Config {
	return Config{
		Generational:             false,
		HeapGrowthFactor:         2.0,
		HeapGrowthThreshold:      0.8,
		LargeHeapGrowthFactor:    2.0,
		LargeHeapGrowthThreshold: 0.8,
		DumpSizeClasses:          false,
		SizeClassProgression:     1.25,
		HeapSize:                 4 * ImmixBlockSize,
		MaxHeapSize:              0, // 0 == unbounded
		MaxEdenSize:              1 << 20,
		Verbose:                  false,
		Parallel:                 false,
		Workers:                  0,
	}
}

// Validate checks the configuration-violation conditions spec §7
// requires HeapCreate to fail on.
func (c Config) Validate() error {
	if c.MaxHeapSize != 0 && c.HeapSize > c.MaxHeapSize {
		return &InvariantError{Msg: "heap_size exceeds max_heap_size"}
	}
	if c.HeapGrowthFactor <= 1.0 {
		return &InvariantError{Msg: "heap_growth_factor must be > 1.0"}
	}
	if c.HeapGrowthThreshold <= 0 || c.HeapGrowthThreshold > 1.0 {
		return &InvariantError{Msg: "heap_growth_threshold must be in (0, 1.0]"}
	}
	return nil
}
