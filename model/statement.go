package model

import (
	"database/sql"
	"sync"
	"sync/atomic"
	"time"
)

// Role classifies a prepared statement's execution path (spec.md §3).
type Role int

const (
	RolePassThrough Role = iota
	RoleWriteRedirected
	RoleReadRedirected
	RoleSkipNoop
)

// State is the per-statement state machine (spec.md §4.2 "State machine").
type State int

const (
	StateFresh State = iota
	StateBoundPartial
	StateBoundComplete
	StateExecuting
	StateCursorOpen
	StateExhausted
	StateDone
	StateFinalized
)

// ResultSet is the in-memory materialization of a statement's current
// result (spec.md §3 Statement "current in-memory result set").
type ResultSet struct {
	Columns    []string
	ColumnOIDs []uint32
	Rows       [][]any
	NullMap    [][]bool
	Cursor     int
}

// RowCount reports how many rows the result set holds.
func (r *ResultSet) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// HasMore reports whether the cursor has an unread row.
func (r *ResultSet) HasMore() bool {
	return r != nil && r.Cursor < len(r.Rows)
}

// CurrentRow returns the row at the cursor without moving it. ok is
// false at end-of-rows.
func (r *ResultSet) CurrentRow() (row []any, nulls []bool, ok bool) {
	if !r.HasMore() {
		return nil, nil, false
	}
	return r.Rows[r.Cursor], r.NullMap[r.Cursor], true
}

// Advance moves the cursor forward one row. Advancing is monotonic per
// spec.md testable property 2.
func (r *ResultSet) Advance() {
	if r.Cursor < len(r.Rows) {
		r.Cursor++
	}
}

// Statement is a prepared host-visible statement; may be dual-backed
// (spec.md §3 "Statement").
type Statement struct {
	mu sync.Mutex

	Conn *Connection

	Shadow       *sql.Stmt // always-valid embedded-library statement handle
	SourceSQL    string
	TranslatedSQL string
	Role          Role

	result       *ResultSet
	cachedResult CacheRef // borrowed reference into the result cache, if any

	ParamScratch  [][]byte // pre-allocated per-parameter scratch buffers
	ParamOverflow [][]byte // overflow allocation for long text/blob binds
	ParamNames    []string
	ParamCount    int

	StableName string // hash of translated SQL, used as the remote prepared-statement name

	writeExecuted atomic.Bool
	readDone      atomic.Bool

	refcount atomic.Int32

	BlobCache map[int]map[int][]byte // row -> column -> decoded blob

	State State

	CreatedAt  time.Time
	LastStepAt time.Time

	// ExecutorConn is the connection that produced the currently held
	// result, for the cross-thread discard rule (spec.md §4.2 "Ordering
	// and fairness notes").
	ExecutorConn *Connection
}

// CacheRef is a borrowed handle into the per-thread result cache; it is
// an interface so the model package doesn't depend on resultcache
// (avoiding an import cycle) while still letting Statement release it.
type CacheRef interface {
	Release()
}

// NewStatement creates a fresh statement in state Fresh with one
// outstanding reference (the registry's).
func NewStatement(conn *Connection, shadow *sql.Stmt, sourceSQL string) *Statement {
	s := &Statement{
		Conn:      conn,
		Shadow:    shadow,
		SourceSQL: sourceSQL,
		State:     StateFresh,
		CreatedAt: time.Now(),
		BlobCache: make(map[int]map[int][]byte),
	}
	s.refcount.Store(1)
	return s
}

// Retain increments the reference count (used when a second registry —
// the thread-local recent-use cache — also holds a pointer).
func (s *Statement) Retain() {
	s.refcount.Add(1)
}

// Release decrements the reference count and reports whether it reached
// zero, meaning the caller should free the statement's memory (spec.md
// §3 Statement lifetime, testable property 1: "no double-free").
func (s *Statement) Release() bool {
	return s.refcount.Add(-1) == 0
}

// MarkWriteExecuted is a one-way latch from false to true (spec.md §3
// Statement invariants). Calling it again is a no-op, not an error.
func (s *Statement) MarkWriteExecuted() {
	s.writeExecuted.Store(true)
}

// WriteExecuted reports whether the write latch is set.
func (s *Statement) WriteExecuted() bool {
	return s.writeExecuted.Load()
}

// MarkReadDone latches read completion; subsequent step calls return
// end-of-rows (spec.md §3 Statement invariants).
func (s *Statement) MarkReadDone() {
	s.readDone.Store(true)
}

// ReadDone reports whether the read latch is set.
func (s *Statement) ReadDone() bool {
	return s.readDone.Load()
}

// ResetLocked clears per-execution state: latches, held result,
// cached-result reference, cursor, and the bound-parameter overflow
// buffers (spec.md §4.2 "Reset"). It does not touch ParamScratch, which
// is reused. The caller must already hold the statement's lock (spec.md
// §5: "One lock per statement, held across each individual
// step/reset/finalize").
func (s *Statement) ResetLocked() {
	s.writeExecuted.Store(false)
	s.readDone.Store(false)
	s.result = nil
	if s.cachedResult != nil {
		s.cachedResult.Release()
		s.cachedResult = nil
	}
	for i := range s.ParamOverflow {
		s.ParamOverflow[i] = nil
	}
	s.State = StateBoundComplete
	s.ExecutorConn = nil
	s.BlobCache = make(map[int]map[int][]byte)
}

// SetResultLocked installs result as the statement's current result
// set, owned by executorConn (spec.md §3 Statement invariant: "while a
// result is held, the result's owning connection must equal the current
// executor connection or the result is discarded"). The caller must
// already hold the statement's lock.
func (s *Statement) SetResultLocked(result *ResultSet, cacheRef CacheRef, executorConn *Connection) {
	if s.cachedResult != nil {
		s.cachedResult.Release()
	}
	s.result = result
	s.cachedResult = cacheRef
	s.ExecutorConn = executorConn
	s.LastStepAt = time.Now()
}

// ResultLocked returns the currently held result set, discarding it
// first if it was produced by a different connection than the one
// passed in (spec.md §4.2 "A statement's result can be owned by at most
// one connection at a time"). The caller must already hold the
// statement's lock.
func (s *Statement) ResultLocked(executorConn *Connection) *ResultSet {
	if s.result != nil && s.ExecutorConn != executorConn {
		if s.cachedResult != nil {
			s.cachedResult.Release()
			s.cachedResult = nil
		}
		s.result = nil
		s.ExecutorConn = nil
	}
	return s.result
}

// ClearResultLocked drops the held result immediately, releasing any
// cache reference (spec.md §4.2: "on exhaustion, free the result
// immediately"). The caller must already hold the statement's lock.
func (s *Statement) ClearResultLocked() {
	if s.cachedResult != nil {
		s.cachedResult.Release()
		s.cachedResult = nil
	}
	s.result = nil
}

// Lock/Unlock expose the per-statement lock (spec.md §5: "One lock per
// statement, held across each individual step/reset/finalize").
func (s *Statement) Lock()   { s.mu.Lock() }
func (s *Statement) Unlock() { s.mu.Unlock() }
