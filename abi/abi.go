// Package abi declares the Go function signatures matching the embedded
// library's C ABI entrypoints (spec.md §6): open/close, prepare,
// bind/step/reset/finalize, column and value accessors, and the
// status/error accessors. Each function here is the contract the
// (external, unimplemented) interception glue is expected to call into
// — this package holds no dynamic-linker or cgo `//export` wiring of
// its own, since that glue is documented as an external collaborator,
// not part of this repository (spec.md §1 "platform-specific
// interception glue ... remains an external collaborator").
//
// Every function takes and returns the host's opaque handles as
// uintptr, exactly as a C pointer would cross a cgo boundary, and
// delegates to a statement.Engine, which already serves as this
// repository's facade (registries, pool, worker, and caches all hang
// off it) — a separate "engine" package would only have re-exported
// that type, so abi imports statement directly.
package abi

import (
	"database/sql"

	"github.com/mevdschee/pgshim/model"
	"github.com/mevdschee/pgshim/statement"
)

// Surface wraps an *statement.Engine with the handle-based lookups the
// ABI entrypoints need. One Surface per loaded shim instance.
type Surface struct {
	engine *statement.Engine
}

// New wraps engine for ABI-style dispatch.
func New(engine *statement.Engine) *Surface {
	return &Surface{engine: engine}
}

// Open implements sqlite3_open / sqlite3_open_v2: registers dbHandle as
// a connection record for path.
func (s *Surface) Open(dbHandle uintptr, path string) error {
	_, err := s.engine.OpenConnection(dbHandle, path)
	return err
}

// Close implements sqlite3_close / sqlite3_close_v2.
func (s *Surface) Close(dbHandle uintptr) {
	s.engine.CloseConnection(dbHandle)
}

func (s *Surface) connection(dbHandle uintptr) (*model.Connection, bool) {
	return s.engine.Connections.Lookup(dbHandle)
}

func (s *Surface) statement(stmtHandle uintptr) (*model.Statement, bool) {
	return s.engine.Statements.Lookup(stmtHandle)
}

// Prepare implements sqlite3_prepare / _v2 / _v3 (the three narrow
// variants and the UTF-16 variant all reduce to the same internal
// prepare once the host's string has been decoded to UTF-8, which is
// the interception glue's responsibility, not this package's).
func (s *Surface) Prepare(dbHandle, stmtHandle uintptr, sourceSQL string) error {
	conn, ok := s.connection(dbHandle)
	if !ok {
		return errUnknownConnection
	}
	_, err := s.engine.Prepare(stmtHandle, conn, sourceSQL)
	return err
}

// BindInt64 implements sqlite3_bind_int64 (and int, which the glue
// widens to int64 before calling in).
func (s *Surface) BindInt64(stmtHandle uintptr, hostIndex int, value int64) error {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return errUnknownStatement
	}
	return s.engine.BindInt64(stmt, hostIndex, value)
}

// BindDouble implements sqlite3_bind_double.
func (s *Surface) BindDouble(stmtHandle uintptr, hostIndex int, value float64) error {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return errUnknownStatement
	}
	return s.engine.BindDouble(stmt, hostIndex, value)
}

// BindText implements sqlite3_bind_text (and _text64, which only
// differs in the host-side length type).
func (s *Surface) BindText(stmtHandle uintptr, hostIndex int, value string) error {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return errUnknownStatement
	}
	return s.engine.BindText(stmt, hostIndex, value)
}

// BindBlob implements sqlite3_bind_blob (and _blob64).
func (s *Surface) BindBlob(stmtHandle uintptr, hostIndex int, value []byte) error {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return errUnknownStatement
	}
	return s.engine.BindBlob(stmt, hostIndex, value)
}

// BindNull implements sqlite3_bind_null.
func (s *Surface) BindNull(stmtHandle uintptr, hostIndex int) error {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return errUnknownStatement
	}
	return s.engine.BindNull(stmt, hostIndex)
}

// BindParameterIndex implements sqlite3_bind_parameter_index: resolve a
// named parameter to its 1-based host index.
func (s *Surface) BindParameterIndex(stmtHandle uintptr, name string) (int, error) {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return 0, errUnknownStatement
	}
	return s.engine.ResolveNamedIndex(stmt, name)
}

// BindParameterCount implements sqlite3_bind_parameter_count.
func (s *Surface) BindParameterCount(stmtHandle uintptr) int {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return 0
	}
	return stmt.ParamCount
}

// BindParameterName implements sqlite3_bind_parameter_name.
func (s *Surface) BindParameterName(stmtHandle uintptr, hostIndex int) string {
	stmt, ok := s.statement(stmtHandle)
	if !ok || hostIndex < 1 || hostIndex > len(stmt.ParamNames) {
		return ""
	}
	return stmt.ParamNames[hostIndex-1]
}

// StepOutcome mirrors statement.StepOutcome for callers that only
// import the abi package.
type StepOutcome = statement.StepOutcome

const (
	StepRow   = statement.StepRow
	StepDone  = statement.StepDone
	StepError = statement.StepError
)

// Step implements sqlite3_step. embeddedFallback must invoke the real
// embedded library's step on this statement's shadow handle — supplied
// by the glue, since this package never touches the embedded driver
// directly.
func (s *Surface) Step(stmtHandle uintptr, embeddedFallback func() (StepOutcome, error)) (StepOutcome, error) {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return StepError, errUnknownStatement
	}
	return s.engine.Step(stmt, embeddedFallback)
}

// Reset implements sqlite3_reset.
func (s *Surface) Reset(stmtHandle uintptr, embeddedReset func() error) error {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return errUnknownStatement
	}
	return s.engine.Reset(stmt, embeddedReset)
}

// Finalize implements sqlite3_finalize.
func (s *Surface) Finalize(stmtHandle uintptr, embeddedFinalize func() error) error {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return errUnknownStatement
	}
	return s.engine.Finalize(stmtHandle, stmt, embeddedFinalize)
}

// ClearBindings implements sqlite3_clear_bindings.
func (s *Surface) ClearBindings(stmtHandle uintptr) error {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return errUnknownStatement
	}
	s.engine.ClearBindings(stmt)
	return nil
}

// ColumnCount implements sqlite3_column_count / sqlite3_data_count.
func (s *Surface) ColumnCount(stmtHandle uintptr) int {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return 0
	}
	return s.engine.ColumnCount(stmt)
}

// ColumnName implements sqlite3_column_name.
func (s *Surface) ColumnName(stmtHandle uintptr, col int) string {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return ""
	}
	return s.engine.ColumnName(stmt, col)
}

// ColumnInt64 implements sqlite3_column_int64 (and _int, widened by the
// glue).
func (s *Surface) ColumnInt64(stmtHandle uintptr, col int) int64 {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return 0
	}
	return s.engine.ColumnInt64(stmt, col)
}

// ColumnDouble implements sqlite3_column_double.
func (s *Surface) ColumnDouble(stmtHandle uintptr, col int) float64 {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return 0
	}
	return s.engine.ColumnDouble(stmt, col)
}

// ColumnText implements sqlite3_column_text (and _bytes, by taking
// len() of the returned string).
func (s *Surface) ColumnText(stmtHandle uintptr, col int) string {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return ""
	}
	return s.engine.ColumnText(stmt, col)
}

// ColumnBlob implements sqlite3_column_blob.
func (s *Surface) ColumnBlob(stmtHandle uintptr, col int) []byte {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return nil
	}
	return []byte(s.engine.ColumnText(stmt, col))
}

// ColumnValue implements sqlite3_column_value: mints a fake-value pool
// token standing in for the current row's column (spec.md §4.7) rather
// than handing out a real Go pointer. ok is false when the statement
// holds no in-memory result, telling the glue to forward to the
// embedded column_value instead.
func (s *Surface) ColumnValue(stmtHandle uintptr, col int) (handle uint64, ok bool) {
	stmt, found := s.statement(stmtHandle)
	if !found {
		return 0, false
	}
	return s.engine.ColumnValueToken(stmt, col)
}

// ValueText/ValueInt64/ValueDouble implement sqlite3_value_*
// for a handle previously returned by ColumnValue. ok is false when the
// handle is out of range or stale, telling the glue to forward to the
// embedded sqlite3_value_* implementation instead (spec.md testable
// property 7).
func (s *Surface) ValueText(handle uint64) (string, bool) {
	stmt, _, col, ok := s.engine.ResolveValueToken(handle)
	if !ok {
		return "", false
	}
	return s.engine.ColumnText(stmt, col), true
}

func (s *Surface) ValueInt64(handle uint64) (int64, bool) {
	stmt, _, col, ok := s.engine.ResolveValueToken(handle)
	if !ok {
		return 0, false
	}
	return s.engine.ColumnInt64(stmt, col), true
}

func (s *Surface) ValueDouble(handle uint64) (float64, bool) {
	stmt, _, col, ok := s.engine.ResolveValueToken(handle)
	if !ok {
		return 0, false
	}
	return s.engine.ColumnDouble(stmt, col), true
}

// Changes implements sqlite3_changes / sqlite3_changes64.
func (s *Surface) Changes(dbHandle uintptr) int64 {
	conn, ok := s.connection(dbHandle)
	if !ok {
		return 0
	}
	return conn.LastChanges()
}

// LastInsertRowID implements sqlite3_last_insert_rowid.
func (s *Surface) LastInsertRowID(dbHandle uintptr) int64 {
	conn, ok := s.connection(dbHandle)
	if !ok {
		return 0
	}
	return conn.LastInsertRowID()
}

// Errmsg implements sqlite3_errmsg, preferring the connection's tracked
// error over the embedded library's own (spec.md §7 "Propagation").
func (s *Surface) Errmsg(dbHandle uintptr, embeddedMsg string) string {
	conn, ok := s.connection(dbHandle)
	if !ok {
		return embeddedMsg
	}
	return statement.ErrMsg(conn, embeddedMsg)
}

// Errcode implements sqlite3_errcode.
func (s *Surface) Errcode(dbHandle uintptr, embeddedCode int) (string, int) {
	conn, ok := s.connection(dbHandle)
	if !ok {
		return "", embeddedCode
	}
	return statement.ErrCode(conn, embeddedCode)
}

// ExtendedErrcode implements sqlite3_extended_errcode.
func (s *Surface) ExtendedErrcode(dbHandle uintptr, embeddedCode int) (string, int) {
	conn, ok := s.connection(dbHandle)
	if !ok {
		return "", embeddedCode
	}
	return statement.ExtendedErrCode(conn, embeddedCode)
}

// StatementReadonly reports whether stmtHandle's translated statement
// is a redirected read, for sqlite3_stmt_readonly.
func (s *Surface) StatementReadonly(stmtHandle uintptr) bool {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return false
	}
	return stmt.Role == model.RoleReadRedirected
}

// CreateCollation implements sqlite3_create_collation / _v2: always
// reports success without registering anything real for ICU-family
// names, since the translator has already stripped or rewritten every
// site that would have used them (spec.md §6 "Collation synthesis").
func (s *Surface) CreateCollation(name string) error {
	return nil
}

// SQL implements sqlite3_sql: returns the statement's original,
// untranslated text exactly as the host prepared it.
func (s *Surface) SQL(stmtHandle uintptr) string {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return ""
	}
	return stmt.SourceSQL
}

// ExpandedSQL implements sqlite3_expanded_sql: returns the text actually
// sent downstream, which is the translated SQL for a redirected
// statement and the original SQL for a pass-through one (there is no
// separate bound-parameter expansion step to mirror here, since bound
// values travel to PostgreSQL as wire-protocol parameters rather than
// being spliced into the SQL text).
func (s *Surface) ExpandedSQL(stmtHandle uintptr) string {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return ""
	}
	if stmt.TranslatedSQL != "" {
		return stmt.TranslatedSQL
	}
	return stmt.SourceSQL
}

// DBHandle implements sqlite3_db_handle: recovers the owning connection
// handle from a statement handle.
func (s *Surface) DBHandle(stmtHandle uintptr) (uintptr, bool) {
	stmt, ok := s.statement(stmtHandle)
	if !ok {
		return 0, false
	}
	return s.engine.Connections.HandleOf(stmt.Conn)
}

// GetTable implements sqlite3_get_table: runs sourceSQL to completion
// against dbHandle and returns every row (plus a header row of column
// names), the one entrypoint in this surface that drives a full
// prepare/step/finalize cycle internally rather than taking an already
// prepared statement. A redirected statement is stepped through the
// engine exactly as Step would; a pass-through one is run straight
// against the shadow statement, since there is no external glue here to
// supply an embedded fallback.
func (s *Surface) GetTable(dbHandle uintptr, sourceSQL string) ([][]string, error) {
	conn, ok := s.connection(dbHandle)
	if !ok {
		return nil, errUnknownConnection
	}
	tmpHandle := s.engine.Statements.NextEphemeralHandle()
	stmt, err := s.engine.Prepare(tmpHandle, conn, sourceSQL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.engine.Finalize(tmpHandle, stmt, func() error { return stmt.Shadow.Close() }) }()

	if stmt.Role == model.RoleReadRedirected || stmt.Role == model.RoleWriteRedirected {
		return s.getTableRedirected(stmt)
	}
	return getTableShadow(stmt)
}

func (s *Surface) getTableRedirected(stmt *model.Statement) ([][]string, error) {
	var rows [][]string
	headered := false
	for {
		outcome, err := s.engine.Step(stmt, func() (StepOutcome, error) { return StepDone, nil })
		if err != nil {
			return rows, err
		}
		if outcome == StepDone {
			return rows, nil
		}
		if outcome != StepRow {
			continue
		}
		count := s.engine.ColumnCount(stmt)
		if !headered {
			header := make([]string, count)
			for i := 0; i < count; i++ {
				header[i] = s.engine.ColumnName(stmt, i)
			}
			rows = append(rows, header)
			headered = true
		}
		row := make([]string, count)
		for i := 0; i < count; i++ {
			row[i] = s.engine.ColumnText(stmt, i)
		}
		rows = append(rows, row)
	}
}

func getTableShadow(stmt *model.Statement) ([][]string, error) {
	rows, err := stmt.Shadow.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := [][]string{cols}

	vals := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range vals {
		dest[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			if v.Valid {
				row[i] = v.String
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Malloc and Free implement sqlite3_malloc / sqlite3_free. The Go
// runtime's garbage collector already owns every allocation this
// package hands back across the boundary, so both are no-ops kept only
// so the glue has a symbol to call for hosts that free library-owned
// buffers explicitly (e.g. the result of GetTable's string conversion).
func (s *Surface) Malloc(size int) uintptr { return 0 }

func (s *Surface) Free(ptr uintptr) {}

var (
	errUnknownConnection = statementError("abi: unknown connection handle")
	errUnknownStatement  = statementError("abi: unknown statement handle")
)

type statementError string

func (e statementError) Error() string { return string(e) }
