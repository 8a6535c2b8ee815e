// Package model holds the shim's core data types: Connection, Statement,
// ResultSet, PoolSlot, CachedResult, and their invariants (spec.md
// §3). Invariants are enforced as methods rather than documented in
// comments, so callers can't accidentally violate them silently.
package model

import "sync"

// TrackedError is the connection-level error state that errmsg/errcode
// prefer over the embedded driver's own error state (spec.md §7).
type TrackedError struct {
	Code    string
	Message string
}

// Connection represents one open database handle (spec.md §3
// "Connection"). The live remote session itself is not owned here — it
// lives in a pool.PoolSlot acquired per operation — Connection only
// records whether its path is configured for redirection at all and the
// per-connection state that the pool doesn't track (last-changes,
// tracked error, per-connection prepared-statement cache).
type Connection struct {
	mu sync.Mutex

	Path   string // source filesystem path
	Schema string // search_path applied at pool-slot acquisition

	redirected      bool
	lastChanges     int64
	lastInsertRowID int64
	tracked         *TrackedError

	// OwnerThread records which OS thread last executed a remote
	// operation on this connection, for the cross-thread result-discard
	// rule (spec.md §4.2).
	OwnerThread int

	preparedNames map[string]bool
}

// NewConnection creates a connection record for path, redirected by
// default; the engine calls DisableRedirection immediately if path
// doesn't match a configured redirect pattern (spec.md §6 "Redirect
// policy").
func NewConnection(path string) *Connection {
	return &Connection{Path: path, redirected: true}
}

// Redirected reports whether this connection's statements should be
// translated and executed remotely.
func (c *Connection) Redirected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redirected
}

// DisableRedirection permanently turns off remote execution for this
// connection: either because its path never matched a redirect pattern,
// or because a redirected operation failed and the engine fell back to
// the embedded library (spec.md §4.2 "On failure").
func (c *Connection) DisableRedirection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redirected = false
}

// SetLastChanges records the affected-row count of the last write.
func (c *Connection) SetLastChanges(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastChanges = n
}

// LastChanges returns the affected-row count of the last write.
func (c *Connection) LastChanges() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastChanges
}

// SetLastInsertRowID records the id returned by a redirected INSERT's
// synthesized RETURNING id clause, for the last_insert_rowid entrypoint.
func (c *Connection) SetLastInsertRowID(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastInsertRowID = id
}

// LastInsertRowID returns the id recorded by the most recent redirected
// write that produced one.
func (c *Connection) LastInsertRowID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastInsertRowID
}

// SetTrackedError records an error for errmsg/errcode to prefer.
func (c *Connection) SetTrackedError(code, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked = &TrackedError{Code: code, Message: message}
}

// ClearTrackedError is called on every successful prepare (spec.md §7:
// "The tracked state is cleared on any successful prepare").
func (c *Connection) ClearTrackedError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked = nil
}

// TrackedErrorState returns the current tracked error, or nil if clear.
func (c *Connection) TrackedErrorState() *TrackedError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracked
}

// IsPrepared reports whether name has already been remote-prepared on
// this connection (spec.md §4.2 "Ordering and fairness notes":
// "Prepared-statement cache keys are per-connection").
func (c *Connection) IsPrepared(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preparedNames[name]
}

// MarkPrepared records that name has been remote-prepared on this
// connection.
func (c *Connection) MarkPrepared(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preparedNames == nil {
		c.preparedNames = make(map[string]bool)
	}
	c.preparedNames[name] = true
}

// Lock/Unlock expose the per-connection lock for callers that must hold
// it across a full remote operation (spec.md §5: "One lock per
// connection, held across the full lifecycle of a single remote
// operation").
func (c *Connection) Lock()   { c.mu.Lock() }
func (c *Connection) Unlock() { c.mu.Unlock() }

// AbandonAfterFork turns off redirection on fork — the child does not
// own the parent's pooled sockets (spec.md §4.3 "Fork safety"); the pool
// itself resets its slots separately via PoolSlot.ResetAfterFork.
func (c *Connection) AbandonAfterFork() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redirected = false
}
