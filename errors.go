package comet

import "fmt"

// InvariantError reports a configuration violation or other
// programmer-error condition that HeapCreate (or another setup-time
// call) can reject cleanly, as opposed to the unrecoverable abort
// path allocate_or_fail and GC-info overflow take.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("comet: invariant violated: %s", e.Msg)
}

// GCInfoOverflowError is returned nowhere — add_gc_info overflowing
// MAX_INDEX is a programming error the spec requires to abort the
// process, not return an error value. AddGCInfo panics with this type
// instead of calling os.Exit, so an embedder's own recover (if any)
// still sees a typed value rather than an opaque string.
type GCInfoOverflowError struct {
	MaxIndex int
}

func (e *GCInfoOverflowError) Error() string {
	return fmt.Sprintf("comet: gc-info table exhausted at %d entries", e.MaxIndex)
}

// OutOfMemoryError is what AllocateOrFail panics with once a last-
// gasp full collection fails to free enough space, per spec §7.
type OutOfMemoryError struct {
	Requested uintptr
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("comet: out of memory allocating %d bytes", e.Requested)
}
