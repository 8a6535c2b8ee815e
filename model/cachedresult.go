package model

import (
	"sync/atomic"
	"time"
)

// CachedResult is a materialized result-set snapshot keyed by a
// fingerprint over (translated SQL, parameter values), living only in
// the thread-local result cache (spec.md §3 "Cached result"). It
// implements CacheRef so a Statement can hold a borrowed reference
// without the model package importing resultcache.
type CachedResult struct {
	Fingerprint uint64

	ColumnNames []string
	ColumnOIDs  []uint32

	RowBytes [][][]byte // row -> column -> raw bytes
	NullMap  [][]bool   // row -> column -> is-null

	CreatedAt time.Time
	hitCount  atomic.Int64
	refcount  atomic.Int32

	onRelease func(*CachedResult) // invoked when refcount reaches zero
}

// NewCachedResult builds a cache entry with zero outstanding references;
// the cache itself does not hold one, so a freshly stored entry with no
// borrowers is immediately eligible for eviction. Callers receive a
// reference only via Lookup, which Retains before returning. onRelease
// is called by Release when the refcount drops back to zero, so the
// owning resultcache can reclaim the slot.
func NewCachedResult(fingerprint uint64, columnNames []string, columnOIDs []uint32, rowBytes [][][]byte, nullMap [][]bool, onRelease func(*CachedResult)) *CachedResult {
	c := &CachedResult{
		Fingerprint: fingerprint,
		ColumnNames: columnNames,
		ColumnOIDs:  columnOIDs,
		RowBytes:    rowBytes,
		NullMap:     nullMap,
		CreatedAt:   time.Now(),
		onRelease:   onRelease,
	}
	return c
}

// RowCount reports how many rows this snapshot holds.
func (c *CachedResult) RowCount() int { return len(c.RowBytes) }

// ByteSize estimates the snapshot's footprint for the byte-cap eviction
// policy (spec.md §4.5 "Eviction policy").
func (c *CachedResult) ByteSize() int {
	total := 0
	for _, row := range c.RowBytes {
		for _, col := range row {
			total += len(col)
		}
	}
	return total
}

// Retain records an additional borrower (e.g. a second Statement with
// an identical fingerprint hit).
func (c *CachedResult) Retain() {
	c.refcount.Add(1)
}

// Release drops a reference. When the count reaches zero the entry's
// owning cache slot is freed via onRelease (spec.md §4.5: "an entry can
// only be evicted once its reference count is zero").
func (c *CachedResult) Release() {
	if c.refcount.Add(-1) == 0 && c.onRelease != nil {
		c.onRelease(c)
	}
}

// RefCount reports the current outstanding reference count, used by the
// eviction sweep to skip entries still in use.
func (c *CachedResult) RefCount() int32 {
	return c.refcount.Load()
}

// Hit records a cache hit and returns the updated hit count.
func (c *CachedResult) Hit() int64 {
	return c.hitCount.Add(1)
}

// HitCount returns the number of times this entry has been hit.
func (c *CachedResult) HitCount() int64 {
	return c.hitCount.Load()
}
