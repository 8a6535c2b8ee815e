// Package pool implements the fixed-capacity remote-connection pool
// described in spec.md §4.3: a bounded array of slots, acquisition by
// thread-local hint or scan-and-evict, health-check recovery, and
// fork safety.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/mevdschee/pgshim/config"
	"github.com/mevdschee/pgshim/metrics"
	"github.com/mevdschee/pgshim/model"
)

// ErrPoolExhausted is returned when no slot is free and no ready slot is
// owned by a thread other than the caller, or when the chosen eviction
// victim was claimed concurrently.
var ErrPoolExhausted = errors.New("pool: no free or evictable slot")

// Dialer opens a fresh remote session and applies per-connection
// settings (search_path, statement_timeout). It is supplied by the
// engine so this package stays free of config/DSN concerns.
type Dialer func(ctx context.Context, schema string) (*pgx.Conn, error)

// Pool is the fixed-capacity connection pool (spec.md §4.3).
type Pool struct {
	mu    sync.Mutex // guards the scan-for-free-or-evictable-slot sequence only
	slots [config.MaxConnections]*model.PoolSlot
	dial  Dialer
}

// New allocates a pool of config.MaxConnections free slots.
func New(dial Dialer) *Pool {
	p := &Pool{dial: dial}
	for i := range p.slots {
		p.slots[i] = model.NewPoolSlot()
	}
	return p
}

// Hint is the thread-local "last known good slot" triple (spec.md §4.3:
// "A thread-local cache remembers the last (database_path, slot_index,
// slot_generation) tuple"). Each OS thread owns its own Hint; no lock
// is needed (spec.md §5).
type Hint struct {
	Path       string
	SlotIndex  int
	Generation uint64
	valid      bool
}

// Acquire returns a ready slot for path, consulting hint first (spec.md
// §4.3 "Acquisition"). On a cache hit it still confirms the slot is
// SlotReady and the generation matches before trusting it.
func (p *Pool) Acquire(ctx context.Context, path, schema string, hint *Hint, ownerThread int) (*model.PoolSlot, error) {
	if hint.valid && hint.Path == path {
		slot := p.slots[hint.SlotIndex]
		if slot.State() == model.SlotReady && slot.Generation() == hint.Generation {
			slot.Touch()
			metrics.PoolAcquireTotal.WithLabelValues("hint").Inc()
			return slot, nil
		}
		hint.valid = false
	}

	slot, idx, err := p.acquireSlow(ctx, path, schema, ownerThread)
	if err != nil {
		return nil, err
	}
	hint.Path = path
	hint.SlotIndex = idx
	hint.Generation = slot.Generation()
	hint.valid = true
	metrics.PoolAcquireTotal.WithLabelValues("scan").Inc()
	return slot, nil
}

// acquireSlow scans for a free slot, or evicts the least-recently-used
// ready slot owned by a different thread, opens a fresh remote session,
// and transitions the slot to ready (spec.md §4.3 "Acquisition").
func (p *Pool) acquireSlow(ctx context.Context, path, schema string, ownerThread int) (*model.PoolSlot, int, error) {
	idx, slot, err := p.claimSlot(ownerThread)
	if err != nil {
		return nil, 0, err
	}

	remote, err := p.dial(ctx, schema)
	if err != nil {
		slot.SetState(model.SlotError)
		metrics.PoolSlotState.WithLabelValues("error").Inc()
		return nil, 0, fmt.Errorf("pool: dial failed: %w", err)
	}

	slot.Remote = remote
	slot.DBPath = path
	slot.OwnerThread.Store(int64(ownerThread))
	slot.BumpGeneration()
	slot.SetState(model.SlotReady)
	slot.Touch()
	metrics.PoolSlotState.WithLabelValues("ready").Inc()
	return slot, idx, nil
}

// claimSlot reserves a free slot, or evicts the least-recently-used
// ready slot not owned by ownerThread.
func (p *Pool) claimSlot(ownerThread int) (int, *model.PoolSlot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, s := range p.slots {
		if s.CompareAndSwapState(model.SlotFree, model.SlotReserved) {
			return i, s, nil
		}
	}

	victimIdx := -1
	var victim *model.PoolSlot
	for i, s := range p.slots {
		if s.State() != model.SlotReady {
			continue
		}
		if int64(ownerThread) == s.OwnerThread.Load() {
			continue
		}
		if victim == nil || s.IdleFor() > victim.IdleFor() {
			victim, victimIdx = s, i
		}
	}
	if victim == nil {
		return 0, nil, ErrPoolExhausted
	}
	if !victim.CompareAndSwapState(model.SlotReady, model.SlotReserved) {
		return 0, nil, ErrPoolExhausted
	}
	if victim.Remote != nil {
		_ = victim.Remote.Close(context.Background())
	}
	log.Printf("[Pool] evicted slot %d (path %s) for new acquisition", victimIdx, victim.DBPath)
	return victimIdx, victim, nil
}

// HealthCheck runs the recovery sequence described in spec.md §4.3
// "Health check & touch": on a non-OK remote status, reconnect and
// re-apply session settings, returning the slot to ready or error.
func (p *Pool) HealthCheck(ctx context.Context, slot *model.PoolSlot, schema string) error {
	if slot.Remote != nil && !slot.Remote.IsClosed() {
		if err := slot.Remote.Ping(ctx); err == nil {
			return nil
		}
	}

	slot.SetState(model.SlotReconnecting)
	metrics.PoolSlotState.WithLabelValues("reconnecting").Inc()

	if slot.Remote != nil {
		_ = slot.Remote.Close(ctx)
	}
	remote, err := p.dial(ctx, schema)
	if err != nil {
		slot.SetState(model.SlotError)
		metrics.PoolSlotState.WithLabelValues("error").Inc()
		return fmt.Errorf("pool: health-check reconnect failed: %w", err)
	}
	slot.Remote = remote
	slot.BumpGeneration()
	slot.SetState(model.SlotReady)
	metrics.PoolSlotState.WithLabelValues("ready").Inc()
	return nil
}

// ResetAfterFork implements the `atfork` child hook (spec.md §4.3 "Fork
// safety"): every slot is forced free, sessions are zeroed without
// being closed, and generations reset. Must be called from the child
// immediately after fork, before any other pool method.
func (p *Pool) ResetAfterFork() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		s.ResetAfterFork()
	}
}

// Release marks the end of one operation on a slot by refreshing its
// last-used time; the slot stays ready and owned, and its state is not
// changed.
func (p *Pool) Release(slot *model.PoolSlot) {
	slot.Touch()
}
