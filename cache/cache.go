// Package cache implements the translation cache of spec.md §4.6: an
// associative map from (entry-PC, vtype-fingerprint) to a compiled wasm
// function handle, with CLOCK-approximate eviction and invalidation on
// guest writes by a linear scan of all entries' covered ranges (there is no
// interval index). Grounded on the teacher's
// debugger.BreakpointManager/WatchpointManager keyed-lookup-with-
// bookkeeping pattern, generalized to a capacity-bounded, concurrently
// insertable cache.
package cache

import (
	"golang.org/x/sync/singleflight"
)

// Key uniquely identifies a basic block, per spec.md §3.
type Key struct {
	EntryPC     uint64
	VtypeFinger uint32
}

// Handle is whatever the translator produced for a block; the cache treats
// it opaquely.
type Handle any

// entry is spec.md §3's translation cache entry record.
type entry struct {
	key          Key
	handle       Handle
	coveredLow   uint64
	coveredHigh  uint64
	generation   uint64
	referenced   bool // CLOCK reference bit
}

// Cache is a fixed-capacity, CLOCK-evicted map keyed by Key. Invalidate
// finds entries for self-modifying-code invalidation by scanning every
// entry's covered range.
// Insertion races on the same key are collapsed by a singleflight.Group so
// at most one compile per key ever wins, matching spec.md §4.6's
// "insertions are at-most-once per key."
type Cache struct {
	capacity int
	entries  map[Key]*entry
	clock    []*entry // CLOCK hand order
	hand     int

	group singleflight.Group
}

// New creates a cache with the given fixed capacity (spec.md default 4096).
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[Key]*entry, capacity),
	}
}

// Lookup returns the handle for key, if present, setting its CLOCK
// reference bit. Two successive lookups of the same key with no
// invalidations between them return the identical handle (spec.md §8).
func (c *Cache) Lookup(key Key) (Handle, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e.referenced = true
	return e.handle, true
}

// Insert installs handle for key with the given covered range and
// generation, evicting via CLOCK if the cache is at capacity. If key is
// already present (a race lost to a concurrent Insert), the existing
// handle is kept and returned instead — "at most once per key."
func (c *Cache) Insert(key Key, handle Handle, coveredLow, coveredHigh, generation uint64) Handle {
	if existing, ok := c.entries[key]; ok {
		return existing.handle
	}
	if len(c.entries) >= c.capacity {
		c.evictOne()
	}
	e := &entry{key: key, handle: handle, coveredLow: coveredLow, coveredHigh: coveredHigh, generation: generation}
	c.entries[key] = e
	c.clock = append(c.clock, e)
	return handle
}

// GetOrCompile performs the race-free "lookup, and on miss compile exactly
// once" sequence spec.md §4.6 requires, using singleflight to collapse
// concurrent misses for the same key into a single compile call.
func (c *Cache) GetOrCompile(key Key, compile func() (Handle, uint64, uint64, uint64, error)) (Handle, error) {
	if h, ok := c.Lookup(key); ok {
		return h, nil
	}

	v, err, _ := c.group.Do(keyString(key), func() (any, error) {
		if h, ok := c.Lookup(key); ok {
			return h, nil
		}
		h, low, high, gen, err := compile()
		if err != nil {
			return nil, err
		}
		return c.Insert(key, h, low, high, gen), nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func keyString(k Key) string {
	// a cheap, collision-free-for-practical-purposes string key for
	// singleflight.Group, which only accepts strings
	buf := make([]byte, 0, 24)
	buf = appendUint64(buf, k.EntryPC)
	buf = append(buf, ':')
	buf = appendUint64(buf, uint64(k.VtypeFinger))
	return string(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	if v == 0 {
		return append(buf, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(buf, tmp[i:]...)
}

func (c *Cache) evictOne() {
	if len(c.clock) == 0 {
		return
	}
	for {
		if c.hand >= len(c.clock) {
			c.hand = 0
		}
		e := c.clock[c.hand]
		if e == nil {
			c.clock = append(c.clock[:c.hand], c.clock[c.hand+1:]...)
			continue
		}
		if e.referenced {
			e.referenced = false
			c.hand++
			continue
		}
		delete(c.entries, e.key)
		c.clock = append(c.clock[:c.hand], c.clock[c.hand+1:]...)
		return
	}
}

// Invalidate evicts every entry whose covered range intersects
// [low, high], per spec.md §4.6's self-modifying-code handling.
func (c *Cache) Invalidate(low, high uint64) {
	for i := 0; i < len(c.clock); {
		e := c.clock[i]
		if e.coveredLow <= high && low <= e.coveredHigh {
			delete(c.entries, e.key)
			c.clock = append(c.clock[:i], c.clock[i+1:]...)
			if c.hand > i {
				c.hand--
			}
			continue
		}
		i++
	}
}

// Len reports the number of resident entries, for introspection.
func (c *Cache) Len() int { return len(c.entries) }
