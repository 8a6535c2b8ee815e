package model

import "testing"

type fakeCacheRef struct {
	released bool
}

func (f *fakeCacheRef) Release() { f.released = true }

func TestNewStatement_StartsWithOneReference(t *testing.T) {
	conn := NewConnection("/x.db")
	s := NewStatement(conn, nil, "SELECT 1")
	if s.Release() != true {
		t.Fatalf("releasing the sole reference should report zero remaining")
	}
}

func TestStatement_RetainReleaseNoDoubleFree(t *testing.T) {
	conn := NewConnection("/x.db")
	s := NewStatement(conn, nil, "SELECT 1")
	s.Retain() // second registry (recent-use cache) holds one too

	if s.Release() {
		t.Fatalf("first release should not report zero while a second reference remains")
	}
	if !s.Release() {
		t.Fatalf("second release should report zero")
	}
}

func TestStatement_WriteAndReadLatches(t *testing.T) {
	conn := NewConnection("/x.db")
	s := NewStatement(conn, nil, "INSERT INTO t VALUES (1)")

	if s.WriteExecuted() || s.ReadDone() {
		t.Fatalf("latches should start clear")
	}
	s.MarkWriteExecuted()
	s.MarkWriteExecuted() // idempotent
	if !s.WriteExecuted() {
		t.Fatalf("write latch should be set")
	}

	s.MarkReadDone()
	if !s.ReadDone() {
		t.Fatalf("read latch should be set")
	}
}

func TestStatement_ResetClearsLatchesAndResult(t *testing.T) {
	conn := NewConnection("/x.db")
	s := NewStatement(conn, nil, "SELECT 1")
	s.MarkWriteExecuted()
	s.MarkReadDone()

	ref := &fakeCacheRef{}
	result := &ResultSet{Columns: []string{"a"}, Rows: [][]any{{"1"}}}
	s.Lock()
	s.SetResultLocked(result, ref, conn)
	s.ResetLocked()
	s.Unlock()

	if s.WriteExecuted() || s.ReadDone() {
		t.Fatalf("reset should clear both latches")
	}
	s.Lock()
	got := s.ResultLocked(conn)
	s.Unlock()
	if got != nil {
		t.Fatalf("reset should clear the held result")
	}
	if !ref.released {
		t.Fatalf("reset should release the cached-result reference")
	}
}

func TestStatement_ResultDiscardedOnExecutorMismatch(t *testing.T) {
	connA := NewConnection("/x.db")
	connB := NewConnection("/x.db")
	s := NewStatement(connA, nil, "SELECT 1")

	result := &ResultSet{Columns: []string{"a"}, Rows: [][]any{{"1"}}}
	s.Lock()
	s.SetResultLocked(result, nil, connA)
	gotA := s.ResultLocked(connA)
	s.Unlock()
	if gotA == nil {
		t.Fatalf("expected result to be visible to its owning connection")
	}

	s.Lock()
	s.SetResultLocked(result, nil, connA)
	gotB := s.ResultLocked(connB)
	s.Unlock()
	if gotB != nil {
		t.Fatalf("expected result to be discarded for a different executor connection, got %v", gotB)
	}
	s.Lock()
	gotAAgain := s.ResultLocked(connA)
	s.Unlock()
	if gotAAgain != nil {
		t.Fatalf("expected result to remain discarded even when asking the original connection again")
	}
}

func TestResultSet_AdvanceIsMonotonicAndBounded(t *testing.T) {
	r := &ResultSet{Rows: [][]any{{1}, {2}}, NullMap: [][]bool{{false}, {false}}}
	if !r.HasMore() {
		t.Fatalf("expected rows available")
	}
	row, _, ok := r.CurrentRow()
	if !ok || row[0] != 1 {
		t.Fatalf("unexpected first row: %v ok=%v", row, ok)
	}
	r.Advance()
	row, _, ok = r.CurrentRow()
	if !ok || row[0] != 2 {
		t.Fatalf("unexpected second row: %v ok=%v", row, ok)
	}
	r.Advance()
	if r.HasMore() {
		t.Fatalf("expected no more rows after advancing past the end")
	}
	r.Advance() // must not panic or go negative
	if r.Cursor != 2 {
		t.Fatalf("cursor should not advance past row count, got %d", r.Cursor)
	}
}
