package translator

import (
	"hash/fnv"

	"github.com/mevdschee/pgshim/config"
)

// entry is one slot in a thread's translation cache (spec.md §4.1
// "Caching"): a fingerprint, a copy of the source SQL for collision
// rejection, the translated output, and the parameter count.
type entry struct {
	occupied    bool
	fingerprint uint64
	sourceSQL   string
	result      *Result
	lastProbe   uint64 // monotonically increasing "clock" for LRU-by-last-probe
}

// Cache is the fixed-size, open-addressed, linear-probe translation
// cache owned by a single OS thread (spec.md §4.1). It is never shared
// and therefore needs no lock.
type Cache struct {
	slots [config.TranslationCacheSize]entry
	clock uint64
}

// NewCache allocates an empty per-thread translation cache.
func NewCache() *Cache {
	return &Cache{}
}

// fingerprint computes the FNV-1a hash of source SQL used as the cache key.
func fingerprint(sql string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sql))
	return h.Sum64()
}

const mask = uint64(config.TranslationCacheSize - 1)

// Lookup returns a cached translation for sql if present, else nil.
func (c *Cache) Lookup(sql string) *Result {
	fp := fingerprint(sql)
	idx := fp & mask
	for probe := 0; probe < config.TranslationCacheProbeLimit; probe++ {
		slot := &c.slots[(idx+uint64(probe))&mask]
		if !slot.occupied {
			return nil
		}
		if slot.fingerprint == fp && slot.sourceSQL == sql {
			c.clock++
			slot.lastProbe = c.clock
			return slot.result
		}
	}
	return nil
}

// Store inserts a translation result into the cache, evicting the
// least-recently-probed occupied slot in the probe chain if all slots
// within the probe limit are full.
func (c *Cache) Store(sql string, result *Result) {
	fp := fingerprint(sql)
	idx := fp & mask

	var victim *entry
	for probe := 0; probe < config.TranslationCacheProbeLimit; probe++ {
		slot := &c.slots[(idx+uint64(probe))&mask]
		if !slot.occupied {
			victim = slot
			break
		}
		if slot.fingerprint == fp && slot.sourceSQL == sql {
			victim = slot
			break
		}
		if victim == nil || slot.lastProbe < victim.lastProbe {
			victim = slot
		}
	}

	c.clock++
	victim.occupied = true
	victim.fingerprint = fp
	victim.sourceSQL = sql
	victim.result = result
	victim.lastProbe = c.clock
}

// TranslateCached runs Translate through the cache: a hit returns the
// borrowed cached Result directly; a miss runs the pipeline and stores
// the result before returning it. Redirected writes are neither looked
// up nor stored; they always run the pipeline.
//
// Per spec.md §4.1 "Failure model", a pipeline failure is never cached —
// the caller falls back to passing the original SQL to the embedded
// library.
func (c *Cache) TranslateCached(sql string, redirectedWrite bool) (*Result, error) {
	if !redirectedWrite {
		if hit := c.Lookup(sql); hit != nil {
			return hit, nil
		}
	}
	result, err := Translate(sql, redirectedWrite)
	if err != nil {
		return nil, err
	}
	if !redirectedWrite {
		c.Store(sql, result)
	}
	return result, nil
}
