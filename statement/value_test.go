package statement

import (
	"testing"

	"github.com/mevdschee/pgshim/fakevalue"
	"github.com/mevdschee/pgshim/model"
)

func newTestStatementWithResult() (*Engine, *model.Statement) {
	conn := model.NewConnection("/tmp/x.db")
	s := model.NewStatement(conn, nil, "SELECT a, b FROM t")
	result := &model.ResultSet{
		Columns: []string{"a", "b"},
		Rows: [][]any{
			{"42", "hello"},
			{"7", nil},
		},
		NullMap: [][]bool{
			{false, false},
			{false, true},
		},
	}
	s.Lock()
	s.SetResultLocked(result, nil, conn)
	s.Unlock()
	e := &Engine{FakeValues: fakevalue.NewPool()}
	return e, s
}

func TestColumnAccessors_ReadCurrentRow(t *testing.T) {
	e, s := newTestStatementWithResult()

	if e.ColumnCount(s) != 2 {
		t.Fatalf("want 2 columns, got %d", e.ColumnCount(s))
	}
	if e.ColumnName(s, 0) != "a" {
		t.Fatalf("want column name a, got %q", e.ColumnName(s, 0))
	}
	if e.ColumnInt64(s, 0) != 42 {
		t.Fatalf("want 42, got %d", e.ColumnInt64(s, 0))
	}
	if e.ColumnText(s, 1) != "hello" {
		t.Fatalf("want hello, got %q", e.ColumnText(s, 1))
	}
	if e.ColumnIsNull(s, 1) {
		t.Fatalf("column 1 of row 0 should not be null")
	}
}

func TestColumnAccessors_AdvanceToNullRow(t *testing.T) {
	e, s := newTestStatementWithResult()
	s.Lock()
	result := s.ResultLocked(s.ExecutorConn)
	result.Advance()
	s.Unlock()

	if !e.ColumnIsNull(s, 1) {
		t.Fatalf("column 1 of row 1 should be null")
	}
	if e.ColumnInt64(s, 0) != 7 {
		t.Fatalf("want 7, got %d", e.ColumnInt64(s, 0))
	}
}

func TestColumnValueToken_MintAndResolveRoundTrip(t *testing.T) {
	e, s := newTestStatementWithResult()

	handle, ok := e.ColumnValueToken(s, 1)
	if !ok {
		t.Fatalf("expected a token for a statement with a held result")
	}

	stmt, row, col, ok := e.ResolveValueToken(handle)
	if !ok {
		t.Fatalf("expected the freshly minted handle to resolve")
	}
	if stmt != s || row != 0 || col != 1 {
		t.Fatalf("unexpected token contents: stmt=%v row=%d col=%d", stmt == s, row, col)
	}
}

func TestColumnValueToken_NoResultMeansForwardToEmbedded(t *testing.T) {
	e := &Engine{FakeValues: fakevalue.NewPool()}
	conn := model.NewConnection("/tmp/x.db")
	s := model.NewStatement(conn, nil, "SELECT 1")

	if _, ok := e.ColumnValueToken(s, 0); ok {
		t.Fatalf("expected no token when the statement holds no result")
	}
}

func TestResolveValueToken_OutOfRangeHandleForwardsToEmbedded(t *testing.T) {
	e := &Engine{FakeValues: fakevalue.NewPool()}
	if _, _, _, ok := e.ResolveValueToken(^uint64(0)); ok {
		t.Fatalf("expected an out-of-range handle to fail resolution")
	}
}
