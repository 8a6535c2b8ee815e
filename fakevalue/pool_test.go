package fakevalue

import (
	"testing"

	"github.com/mevdschee/pgshim/model"
)

func TestPool_MintAndLookup(t *testing.T) {
	p := NewPool()
	stmt := &model.Statement{}

	h := p.Mint(stmt, 3, 1)
	tok, ok := p.Lookup(h)
	if !ok {
		t.Fatalf("expected lookup to succeed")
	}
	if tok.Statement != stmt || tok.Row != 3 || tok.Column != 1 {
		t.Fatalf("unexpected token contents: %+v", tok)
	}
}

func TestPool_StaleHandleAfterWrap(t *testing.T) {
	p := NewPool()
	stmt := &model.Statement{}

	h := p.Mint(stmt, 0, 0)
	for i := 0; i < 4096; i++ {
		p.Mint(stmt, i, 0)
	}
	if _, ok := p.Lookup(h); ok {
		t.Fatalf("expected stale handle to be rejected after wrap-around")
	}
}

func TestPool_UnknownHandle(t *testing.T) {
	p := NewPool()
	if _, ok := p.Lookup(0xdeadbeef); ok {
		t.Fatalf("expected lookup of never-minted handle to fail")
	}
}

func TestPool_InRange(t *testing.T) {
	p := NewPool()
	if !p.InRange(0) {
		t.Fatalf("expected handle 0 to be in range")
	}
	if p.InRange(uint64(5000) << 32) {
		t.Fatalf("expected out-of-range index to be rejected")
	}
}
