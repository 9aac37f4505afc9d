package cache

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestLookupMissThenInsertHit(t *testing.T) {
	c := New(16)
	key := Key{EntryPC: 0x1000}

	if _, ok := c.Lookup(key); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Insert(key, "handle-a", 0x1000, 0x1010, 0)
	h, ok := c.Lookup(key)
	if !ok || h != "handle-a" {
		t.Fatalf("expected hit with handle-a, got %v %v", h, ok)
	}
}

func TestLookupDeterministicAcrossRepeatedCalls(t *testing.T) {
	c := New(16)
	key := Key{EntryPC: 0x2000, VtypeFinger: 7}
	c.Insert(key, "stable", 0x2000, 0x2004, 0)

	h1, _ := c.Lookup(key)
	h2, _ := c.Lookup(key)
	if h1 != h2 {
		t.Fatalf("expected identical handle across lookups, got %v vs %v", h1, h2)
	}
}

func TestInsertIsAtMostOncePerKey(t *testing.T) {
	c := New(16)
	key := Key{EntryPC: 0x3000}
	first := c.Insert(key, "first", 0x3000, 0x3004, 0)
	second := c.Insert(key, "second", 0x3000, 0x3004, 0)
	if first != second {
		t.Fatalf("expected second insert to return the winning handle, got %v vs %v", first, second)
	}
	got, _ := c.Lookup(key)
	if got != "first" {
		t.Fatalf("expected first insertion to win, got %v", got)
	}
}

func TestInvalidateEvictsOverlappingRange(t *testing.T) {
	c := New(16)
	inside := Key{EntryPC: 0x4000}
	outside := Key{EntryPC: 0x9000}
	c.Insert(inside, "inside", 0x4000, 0x4010, 0)
	c.Insert(outside, "outside", 0x9000, 0x9010, 0)

	c.Invalidate(0x4004, 0x4008)

	if _, ok := c.Lookup(inside); ok {
		t.Fatal("expected overlapping block to be invalidated")
	}
	if _, ok := c.Lookup(outside); !ok {
		t.Fatal("expected non-overlapping block to survive")
	}
}

func TestEvictionRespectsCapacity(t *testing.T) {
	c := New(4)
	for i := 0; i < 8; i++ {
		key := Key{EntryPC: uint64(i * 0x100)}
		c.Insert(key, i, uint64(i*0x100), uint64(i*0x100+4), 0)
	}
	if c.Len() > 4 {
		t.Fatalf("expected capacity to be enforced, got %d entries", c.Len())
	}
}

func TestGetOrCompileCollapsesConcurrentMisses(t *testing.T) {
	c := New(16)
	key := Key{EntryPC: 0x5000}
	var compiles int32

	var wg sync.WaitGroup
	results := make([]Handle, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := c.GetOrCompile(key, func() (Handle, uint64, uint64, uint64, error) {
				atomic.AddInt32(&compiles, 1)
				return "compiled-once", 0x5000, 0x5004, 0, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = h
		}(i)
	}
	wg.Wait()

	if compiles != 1 {
		t.Fatalf("expected exactly one compile, got %d", compiles)
	}
	for _, r := range results {
		if r != "compiled-once" {
			t.Fatalf("expected every caller to observe the winning handle, got %v", r)
		}
	}
}
