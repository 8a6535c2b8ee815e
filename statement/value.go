package statement

import (
	"fmt"
	"strconv"

	"github.com/mevdschee/pgshim/model"
)

// ColumnCount reports the column count of the statement's currently
// held result, or 0 if none is held.
func (e *Engine) ColumnCount(s *model.Statement) int {
	s.Lock()
	defer s.Unlock()
	result := s.ResultLocked(s.ExecutorConn)
	if result == nil {
		return 0
	}
	return len(result.Columns)
}

// ColumnName returns the name of the column at col, for the
// column_name entrypoint.
func (e *Engine) ColumnName(s *model.Statement, col int) string {
	s.Lock()
	defer s.Unlock()
	result := s.ResultLocked(s.ExecutorConn)
	if result == nil || col < 0 || col >= len(result.Columns) {
		return ""
	}
	return result.Columns[col]
}

// ColumnIsNull reports whether the current row's column is NULL.
func (e *Engine) ColumnIsNull(s *model.Statement, col int) bool {
	s.Lock()
	defer s.Unlock()
	result := s.ResultLocked(s.ExecutorConn)
	if result == nil || result.Cursor >= len(result.NullMap) || col < 0 || col >= len(result.NullMap[result.Cursor]) {
		return true
	}
	return result.NullMap[result.Cursor][col]
}

// ColumnInt64 returns the current row's column as an int64 (0 if it
// can't be parsed as one, matching the embedded API's lenient coercion).
func (e *Engine) ColumnInt64(s *model.Statement, col int) int64 {
	raw, ok := e.currentColumnBytes(s, col)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(string(raw), 10, 64)
	return n
}

// ColumnDouble returns the current row's column as a float64.
func (e *Engine) ColumnDouble(s *model.Statement, col int) float64 {
	raw, ok := e.currentColumnBytes(s, col)
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(string(raw), 64)
	return f
}

// ColumnText returns the current row's column as its raw text form.
func (e *Engine) ColumnText(s *model.Statement, col int) string {
	raw, ok := e.currentColumnBytes(s, col)
	if !ok {
		return ""
	}
	return string(raw)
}

// ColumnValueToken mints a fake-value pool token standing in for the
// current row's column, so the host can hold what looks like an opaque
// embedded-library value pointer without the engine handing out a real
// one into Go memory (spec.md §4.7). A statement with no held result
// (e.g. a pass-through statement whose real result lives in the
// embedded library) returns ok=false, telling the caller to forward to
// the embedded value accessor instead.
func (e *Engine) ColumnValueToken(s *model.Statement, col int) (handle uint64, ok bool) {
	s.Lock()
	result := s.ResultLocked(s.ExecutorConn)
	if result == nil || result.Cursor >= len(result.Rows) {
		s.Unlock()
		return 0, false
	}
	row := result.Cursor
	s.Unlock()
	return e.FakeValues.Mint(s, row, col), true
}

// ResolveValueToken decodes a handle the host hands back into a value
// accessor call. ok is false when handle falls outside the pool's
// range or was never minted (stale or foreign pointer), in which case
// the caller must forward to the embedded implementation (spec.md §4.7
// testable property 7).
func (e *Engine) ResolveValueToken(handle uint64) (stmt *model.Statement, row, col int, ok bool) {
	if !e.FakeValues.InRange(handle) {
		return nil, 0, 0, false
	}
	tok, found := e.FakeValues.Lookup(handle)
	if !found {
		return nil, 0, 0, false
	}
	return tok.Statement, tok.Row, tok.Column, true
}

func (e *Engine) currentColumnBytes(s *model.Statement, col int) ([]byte, bool) {
	s.Lock()
	defer s.Unlock()
	result := s.ResultLocked(s.ExecutorConn)
	if result == nil || result.Cursor >= len(result.Rows) || col < 0 || col >= len(result.Rows[result.Cursor]) {
		return nil, false
	}
	if result.Cursor < len(result.NullMap) && col < len(result.NullMap[result.Cursor]) && result.NullMap[result.Cursor][col] {
		return nil, false
	}
	v := result.Rows[result.Cursor][col]
	switch t := v.(type) {
	case []byte:
		return t, true
	case string:
		return []byte(t), true
	default:
		return []byte(fmt.Sprintf("%v", t)), true
	}
}
