// Package fakevalue implements the fixed-size cyclic token pool used to
// honor the embedded library's "column_value returns an opaque pointer"
// API contract (spec.md §4.7) without actually handing out pointers
// into Go memory.
package fakevalue

import (
	"sync"

	"github.com/mevdschee/pgshim/config"
	"github.com/mevdschee/pgshim/model"
)

// magic identifies a live token when the host hands a pointer back in.
const magic = uint32(0x76_4c_71_21) // "vLq!"

// Token is one fixed-size pool entry (spec.md §4.7): a magic word, a
// back-pointer to its statement, and the (row, column) coordinates of
// the value it stands for at the moment it was minted.
type Token struct {
	magic     uint32
	generation uint64
	Statement *model.Statement
	Row       int
	Column    int
}

// valid reports whether a handle's embedded generation (its low 32
// bits) still matches this token's slot, i.e. the slot hasn't been
// overwritten by a later allocation since the handle was minted.
func (t *Token) valid(handleGeneration uint64) bool {
	return t != nil && t.magic == magic && t.generation&0xffffffff == handleGeneration
}

// Pool is the cyclic token array described in spec.md §4.7. Allocation
// increments a counter modulo the array size; the pool is protected by
// one lock (spec.md §5 "One lock on the fake-value pool counter").
type Pool struct {
	mu     sync.Mutex
	slots  [config.FakeValuePoolSize]Token
	gens   [config.FakeValuePoolSize]uint64
	cursor uint64
}

// NewPool allocates an empty fake-value pool.
func NewPool() *Pool {
	return &Pool{}
}

const indexMask = uint64(config.FakeValuePoolSize - 1)

// Mint allocates the next token in the cyclic array for (stmt, row, col)
// and returns a stable index the host can be given in place of a real
// pointer. Because the pool is cyclic, a token is only valid until the
// counter wraps back around to its slot (spec.md §4.7 "tokens have
// bounded lifetime").
func (p *Pool) Mint(stmt *model.Statement, row, col int) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.cursor & indexMask
	p.cursor++
	p.gens[idx]++

	slot := &p.slots[idx]
	slot.magic = magic
	slot.generation = p.gens[idx]
	slot.Statement = stmt
	slot.Row = row
	slot.Column = col

	return idx<<32 | p.gens[idx]&0xffffffff
}

// Lookup decodes a previously-minted handle. It returns (token, true)
// if the handle is still live (hasn't been overwritten by wrap-around),
// or (nil, false) if the handle is stale or was never minted by this
// pool — the caller should then forward to the embedded implementation
// (spec.md §4.7: "otherwise it forwards to the embedded implementation").
func (p *Pool) Lookup(handle uint64) (*Token, bool) {
	idx := handle >> 32
	gen := handle & 0xffffffff

	if idx >= config.FakeValuePoolSize {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	slot := &p.slots[idx]
	if !slot.valid(gen) {
		return nil, false
	}
	return slot, true
}

// InRange reports whether handle falls within a plausible minted range,
// used by the shim's pointer-range check before attempting a full
// Lookup (spec.md §4.7: "Host pointer arguments are recognized by
// pointer range containment and magic-word match").
func (p *Pool) InRange(handle uint64) bool {
	return handle>>32 < config.FakeValuePoolSize
}
