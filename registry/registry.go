// Package registry implements the global and thread-local lookup
// tables that map opaque host pointers to internal statement and
// connection records (spec.md §4.6).
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/mevdschee/pgshim/config"
	"github.com/mevdschee/pgshim/model"
)

// StatementRegistry maps a host statement pointer (uintptr, as handed
// out by the ABI layer) to the internal Statement. Capacity-bounded and
// protected by one lock (spec.md §4.6, §5).
type StatementRegistry struct {
	mu       sync.Mutex
	byHandle map[uintptr]*model.Statement
}

// NewStatementRegistry allocates an empty, capacity-bounded statement
// registry.
func NewStatementRegistry() *StatementRegistry {
	return &StatementRegistry{
		byHandle: make(map[uintptr]*model.Statement, config.MaxStatements),
	}
}

// capacityError is returned when Insert would exceed config.MaxStatements.
type capacityError struct{ what string }

func (e capacityError) Error() string { return e.what + " registry is full" }

// Insert adds stmt under handle. Returns an error if the registry is at
// capacity (spec.md §4.6: "Capacity-bounded").
func (r *StatementRegistry) Insert(handle uintptr, stmt *model.Statement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHandle[handle]; !exists && len(r.byHandle) >= config.MaxStatements {
		return capacityError{"statement"}
	}
	r.byHandle[handle] = stmt
	return nil
}

// Lookup returns the statement registered under handle, if any.
func (r *StatementRegistry) Lookup(handle uintptr) (*model.Statement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHandle[handle]
	return s, ok
}

// Remove drops handle from the registry. The caller is responsible for
// calling Statement.Release to decide whether to free the statement —
// removal from the registry and reference-count teardown are separate
// concerns (spec.md §4.6: "A statement may appear in both registries;
// refcounts ensure correct teardown").
func (r *StatementRegistry) Remove(handle uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byHandle, handle)
}

// Len reports the number of live entries, mostly for metrics/tests.
func (r *StatementRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHandle)
}

// ephemeralHandleCounter mints synthetic handles for statements that
// have no real host pointer, such as the one sqlite3_get_table prepares
// internally. Handles start at a high bit no real 64-bit host pointer
// from the glue is expected to collide with.
var ephemeralHandleCounter uint64 = 1 << 62

// NextEphemeralHandle returns a fresh synthetic handle for internal use
// (spec.md §6 "sqlite3_get_table ... drives its own prepare/step/finalize
// cycle").
func (r *StatementRegistry) NextEphemeralHandle() uintptr {
	return uintptr(atomic.AddUint64(&ephemeralHandleCounter, 1))
}

// RecentStatementCache is the small thread-local array described in
// spec.md §4.6: "indexed by host statement pointer with insertion into
// the next free slot". It needs no lock — each OS thread owns its own
// instance (spec.md §5: "No lock needed for per-thread caches").
type RecentStatementCache struct {
	handles [config.RecentStatementCacheSize]uintptr
	stmts   [config.RecentStatementCacheSize]*model.Statement
	next    int
}

// NewRecentStatementCache allocates an empty thread-local cache.
func NewRecentStatementCache() *RecentStatementCache {
	return &RecentStatementCache{}
}

// Insert adds stmt under handle into the next free (or oldest) slot,
// returning the handle and statement it evicted, if any — the caller
// should Release the evicted statement's recent-cache reference and,
// if that drops it to zero, remove evictedHandle from the global
// registry too.
func (c *RecentStatementCache) Insert(handle uintptr, stmt *model.Statement) (evictedHandle uintptr, evicted *model.Statement) {
	idx := c.next
	c.next = (c.next + 1) % config.RecentStatementCacheSize
	evictedHandle, evicted = c.handles[idx], c.stmts[idx]
	c.handles[idx] = handle
	c.stmts[idx] = stmt
	if evicted == stmt {
		return 0, nil
	}
	return evictedHandle, evicted
}

// Lookup scans the cache for handle.
func (c *RecentStatementCache) Lookup(handle uintptr) (*model.Statement, bool) {
	for i, h := range c.handles {
		if c.stmts[i] != nil && h == handle {
			return c.stmts[i], true
		}
	}
	return nil, false
}

// Invalidate removes handle's entry from the cache and reports whether
// one was found, so the caller (Finalize) knows whether to release the
// recent cache's own reference on the statement it just removed.
func (c *RecentStatementCache) Invalidate(handle uintptr) bool {
	found := false
	for i, h := range c.handles {
		if h == handle && c.stmts[i] != nil {
			c.stmts[i] = nil
			found = true
		}
	}
	return found
}
