package model

import (
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// SlotState is the pool slot state machine (spec.md §3 "Pool slot").
type SlotState int32

const (
	SlotFree SlotState = iota
	SlotReserved
	SlotReady
	SlotReconnecting
	SlotError
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotReserved:
		return "reserved"
	case SlotReady:
		return "ready"
	case SlotReconnecting:
		return "reconnecting"
	case SlotError:
		return "error"
	default:
		return "unknown"
	}
}

// PoolSlot is one fixed-capacity entry in the connection pool (spec.md
// §3 "Pool slot"). Generation is bumped on every reuse so stale
// thread-local hints can be detected cheaply. The slot's own fields are
// only ever mutated by whichever thread holds it in SlotReserved (the
// CompareAndSwap into that state is the slot's lock), so no separate
// mutex is needed.
type PoolSlot struct {
	state      atomic.Int32
	generation atomic.Uint64

	OwnerThread atomic.Int64
	LastUsed    atomic.Int64 // unix nanos, for idle-eviction comparisons

	Remote *pgx.Conn
	DBPath string
}

// NewPoolSlot returns a free pool slot ready for acquisition.
func NewPoolSlot() *PoolSlot {
	s := &PoolSlot{}
	s.state.Store(int32(SlotFree))
	return s
}

// State returns the slot's current state.
func (s *PoolSlot) State() SlotState { return SlotState(s.state.Load()) }

// CompareAndSwapState attempts the monotonic transition from `from` to
// `to` (spec.md §3 Pool slot invariant: "transitions are monotonic
// within a generation"). A successful CompareAndSwap into SlotReserved
// is what grants a thread exclusive rights to mutate Remote/DBPath.
func (s *PoolSlot) CompareAndSwapState(from, to SlotState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// SetState forces a transition (used for the health-check and
// fork-reset paths, which run under the exclusive SlotReserved claim or
// a process-wide fork barrier and so don't need a compare-and-swap).
func (s *PoolSlot) SetState(to SlotState) {
	s.state.Store(int32(to))
}

// Generation returns the slot's current generation counter.
func (s *PoolSlot) Generation() uint64 { return s.generation.Load() }

// BumpGeneration increments the generation counter, invalidating any
// thread-local hint that still points at the previous generation.
func (s *PoolSlot) BumpGeneration() uint64 { return s.generation.Add(1) }

// Touch updates LastUsed to prevent idle eviction (spec.md §4.3 "Health
// check & touch").
func (s *PoolSlot) Touch() {
	s.LastUsed.Store(time.Now().UnixNano())
}

// IdleFor reports how long it has been since the slot was last touched.
func (s *PoolSlot) IdleFor() time.Duration {
	last := s.LastUsed.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

// ResetAfterFork forces the slot to free and abandons (does not close)
// any live remote session (spec.md §4.3 "Fork safety").
func (s *PoolSlot) ResetAfterFork() {
	s.state.Store(int32(SlotFree))
	s.generation.Store(0)
	s.OwnerThread.Store(0)
	s.Remote = nil
	s.DBPath = ""
}
