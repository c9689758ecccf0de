package immix

import "testing"

func TestBumpSmallStaysWithinBlock(t *testing.T) {
	b := NewBlock()
	var got []uintptr
	for i := 0; i < 10; i++ {
		p := b.bumpSmall(64)
		if p == nil {
			t.Fatalf("alloc %d failed in a fresh block", i)
		}
		addr := uintptr(p)
		if !b.Contains(addr) {
			t.Fatalf("allocation %d escaped its block", i)
		}
		got = append(got, addr)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Errorf("bump allocations not monotonically increasing: %v", got)
		}
	}
}

func TestMarkLineImplicitlyMarksNextLine(t *testing.T) {
	b := NewBlock()
	addr := b.base + 10 // inside line 0
	b.MarkLine(addr)
	if b.marks[0] != lineMarked {
		t.Errorf("line 0 not marked")
	}
	if b.marks[1] != lineMarked {
		t.Errorf("trailing line 1 not implicitly marked")
	}
	if b.marks[2] != lineUnmarked {
		t.Errorf("line 2 unexpectedly marked")
	}
}

func TestNextHoleSkipsMarkedRuns(t *testing.T) {
	b := NewBlock()
	b.marks[0] = lineMarked
	b.marks[1] = lineMarked
	b.marks[5] = lineMarked

	start, end, ok := b.nextHole(b.base)
	if !ok {
		t.Fatalf("expected a hole")
	}
	if start != b.lineAddr(2) || end != b.lineAddr(5) {
		t.Errorf("hole = [%d,%d), want [%d,%d)", start-b.base, end-b.base, 2*LineSize, 5*LineSize)
	}
}

func TestRecomputeClassifiesFreeRecyclableUnavailable(t *testing.T) {
	free := NewBlock()
	free.recompute()
	if free.status != blockFree {
		t.Errorf("untouched block classified as %v, want free", free.status)
	}

	partial := NewBlock()
	partial.marks[0] = lineMarked
	partial.recompute()
	if partial.status != blockRecyclable {
		t.Errorf("partially marked block classified as %v, want recyclable", partial.status)
	}

	full := NewBlock()
	for i := range full.marks {
		full.marks[i] = lineMarked
	}
	full.recompute()
	if full.status != blockUnavailable {
		t.Errorf("fully marked block classified as %v, want unavailable", full.status)
	}
}

func TestBumpMediumUsesIndependentCursor(t *testing.T) {
	b := NewBlock()
	small := b.bumpSmall(64)
	medium := b.bumpMedium(512)
	if small == nil || medium == nil {
		t.Fatalf("expected both allocations to succeed")
	}
	if small == medium {
		t.Errorf("small and medium cursors aliased")
	}
}

func TestBumpSmallExhaustsBlock(t *testing.T) {
	b := NewBlock()
	var n int
	for {
		if b.bumpSmall(LineSize) == nil {
			break
		}
		n++
		if n > LineCount+1 {
			t.Fatalf("bumpSmall did not exhaust a fresh block")
		}
	}
	if n == 0 {
		t.Fatalf("expected at least one allocation before exhaustion")
	}
}
