package trace

import "testing"

func TestRecordRespectsMaxEntries(t *testing.T) {
	tr := New(3)
	for i := uint64(0); i < 5; i++ {
		tr.Record(CategoryReason, 0x1000+i, "")
	}
	if got := tr.Len(); got != 3 {
		t.Fatalf("expected 3 entries retained, got %d", got)
	}
	entries := tr.Snapshot()
	if entries[0].PC != 0x1002 {
		t.Fatalf("expected oldest retained entry at pc 0x1002, got %#x", entries[0].PC)
	}
	if entries[len(entries)-1].PC != 0x1004 {
		t.Fatalf("expected newest entry at pc 0x1004, got %#x", entries[len(entries)-1].PC)
	}
}

func TestRecordFiltersByCategory(t *testing.T) {
	tr := New(16)
	tr.SetFilter([]Category{CategoryCacheHit})
	tr.Record(CategoryCacheMiss, 0x2000, "")
	tr.Record(CategoryCacheHit, 0x2004, "")
	if got := tr.Len(); got != 1 {
		t.Fatalf("expected only the filtered category to be recorded, got %d entries", got)
	}
	if tr.Snapshot()[0].Category != CategoryCacheHit {
		t.Fatal("expected the recorded entry to be a cache hit")
	}
}

func TestDisabledTraceRecordsNothing(t *testing.T) {
	tr := New(16)
	tr.Enabled = false
	tr.Record(CategoryReason, 0x3000, "")
	if got := tr.Len(); got != 0 {
		t.Fatalf("expected no entries while disabled, got %d", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := New(16)
	tr.Record(CategoryReason, 0x4000, "")
	snap := tr.Snapshot()
	snap[0].PC = 0xdead
	if tr.Snapshot()[0].PC != 0x4000 {
		t.Fatal("mutating a snapshot must not affect the underlying trace")
	}
}
