// Package resultcache implements the per-thread result cache described
// in spec.md §4.5: a fixed-size array keyed by a fingerprint over
// translated SQL and bound parameter values, with TTL/row-cap/byte-cap
// eviction that respects outstanding references.
package resultcache

import (
	"hash/fnv"
	"time"

	"github.com/mevdschee/pgshim/config"
	"github.com/mevdschee/pgshim/metrics"
	"github.com/mevdschee/pgshim/model"
)

type slot struct {
	occupied  bool
	fp        uint64
	entry     *model.CachedResult
	storedAt  time.Time
}

// Cache is a single OS thread's result cache. It needs no lock — each
// thread owns its own instance (spec.md §5: "No lock needed for
// per-thread caches").
type Cache struct {
	slots [config.ResultCacheSize]slot
}

// New allocates an empty per-thread result cache.
func New() *Cache {
	return &Cache{}
}

// Fingerprint hashes translated SQL together with the bound parameter
// values, producing the 64-bit key spec.md §4.5 describes.
func Fingerprint(translatedSQL string, params [][]byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(translatedSQL))
	for _, p := range params {
		_, _ = h.Write([]byte{0}) // separator so adjacent params can't collide
		_, _ = h.Write(p)
	}
	return h.Sum64()
}

func index(fp uint64) uint64 {
	return fp % uint64(config.ResultCacheSize)
}

// Lookup returns the live entry for fp, retaining a reference on behalf
// of the caller, or nil on a miss or expiry.
func (c *Cache) Lookup(fp uint64) *model.CachedResult {
	s := &c.slots[index(fp)]
	if !s.occupied || s.fp != fp {
		metrics.ResultCacheMisses.Inc()
		return nil
	}
	if time.Since(s.storedAt) > config.ResultCacheTTL {
		metrics.ResultCacheMisses.Inc()
		return nil
	}
	s.entry.Retain()
	s.entry.Hit()
	metrics.ResultCacheHits.Inc()
	return s.entry
}

// Store inserts entry under fp. Per spec.md §4.5's caching policy,
// results over the row cap or byte cap, or empty results, are refused
// outright. On a collision with a live, still-referenced entry, Store
// leaves the existing entry in place and reports false (a recorded
// "miss" for the write side, matching "leave the entry and record a
// miss").
func (c *Cache) Store(fp uint64, entry *model.CachedResult) bool {
	if entry.RowCount() == 0 {
		return false
	}
	if entry.RowCount() > config.ResultCacheRowCap {
		return false
	}
	if entry.ByteSize() > config.ResultCacheByteCap {
		return false
	}

	s := &c.slots[index(fp)]
	if s.occupied && s.entry != nil && s.entry.RefCount() > 0 {
		// Entry still has live borrowers; leave it and record a miss
		// (spec.md §4.5: "free the slot only if refcount is zero; else
		// leave the entry and record a miss").
		return false
	}

	s.occupied = true
	s.fp = fp
	s.entry = entry
	s.storedAt = time.Now()
	return true
}
