package minimark

import "testing"

func TestCardTableDirtyRoundTrip(t *testing.T) {
	ct := NewCardTable()
	addr := uintptr(1 << 20)
	if ct.Get(addr) != CardClean {
		t.Fatal("fresh card table reports dirty")
	}
	ct.Dirty(addr)
	if ct.Get(addr) != CardDirty {
		t.Error("Dirty did not mark the covering card")
	}
}

func TestCardTableDirtyCoversWholeCard(t *testing.T) {
	ct := NewCardTable()
	base := uintptr(4096) << CardShift
	ct.Dirty(base)
	if ct.Get(base + 17) != CardDirty {
		t.Error("a byte in the same card as a dirtied address should read dirty")
	}
	if ct.Get(base + (1 << CardShift)) != CardClean {
		t.Error("the next card over should not have been dirtied")
	}
}

func TestCardTableAnyDirtyAcrossRange(t *testing.T) {
	ct := NewCardTable()
	start := uintptr(10) << CardShift
	end := start + 5*(1<<CardShift)
	if ct.AnyDirty(start, end) {
		t.Fatal("clean table reports a dirty range")
	}
	ct.Dirty(start + 3*(1<<CardShift) + 5)
	if !ct.AnyDirty(start, end) {
		t.Error("AnyDirty missed a dirty card inside the range")
	}
}

func TestCardTableClearAll(t *testing.T) {
	ct := NewCardTable()
	ct.Dirty(1 << 20)
	ct.Dirty(2 << 20)
	if ct.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", ct.Len())
	}
	ct.ClearAll()
	if ct.Len() != 0 {
		t.Errorf("Len() = %d after ClearAll, want 0", ct.Len())
	}
}
