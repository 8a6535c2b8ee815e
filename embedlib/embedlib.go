// Package embedlib wraps the embedded SQLite library that every
// statement is shadow-compiled against, even when execution actually
// happens on the remote PostgreSQL side (spec.md §4.2 step 4: "This
// handle is handed back to the host even when execution will actually
// occur on the remote side"). It also hosts the ICU-collation no-op
// registration and `table_info` pragma lookups used by the prepare
// algorithm's ALTER TABLE ADD COLUMN guard.
package embedlib

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// DB wraps one embedded-library handle for one host database path.
type DB struct {
	conn *sql.DB
	path string
}

// icuCollate is a plain byte-wise collation: the embedded copy never compares
// ICU-collated data for real, since reads against redirected tables
// never reach it (spec.md §4.2 step 2, §9 registration).
func icuCollate(a, b string) int { return strings.Compare(a, b) }

var registerDriverOnce sync.Once

// registerDriver registers a sqlite3 driver variant whose ConnectHook
// registers the icu_root collation on every new embedded connection, so
// CREATE TABLE/INDEX statements that reference it compile against the
// shadow copy (spec.md §4.2 step 2).
func registerDriver() {
	registerDriverOnce.Do(func() {
		sql.Register("sqlite3_pgshim", &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterCollation("icu_root", icuCollate)
			},
		})
	})
}

// Open opens (or creates) the embedded SQLite database backing path and
// registers the icu_root collation so CREATE TABLE/INDEX statements
// referencing it don't fail to compile (spec.md §4.2 step 2).
func Open(path string) (*DB, error) {
	registerDriver()
	conn, err := sql.Open("sqlite3_pgshim", path)
	if err != nil {
		return nil, fmt.Errorf("embedlib: open %s: %w", path, err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Close releases the embedded handle.
func (d *DB) Close() error { return d.conn.Close() }

var collateICURe = regexp.MustCompile(`(?i)COLLATE\s+icu_root`)
var ftsJoinRe = regexp.MustCompile(`(?i)\bfts\w*_\w+\b`)

// PrepareShadow compiles sql against the embedded library, applying the
// shadow-only edits from spec.md §4.2 step 2: stripping `COLLATE
// icu_root` (the embedded copy has no real ICU collation to compare
// against) and, when the statement references an FTS-named table
// anywhere, compiling the constant-false placeholder `SELECT 1 WHERE 0`
// in its place so the shadow compile succeeds without a virtual table.
// The FTS references are not replaced one by one; the whole statement is.
func (d *DB) PrepareShadow(sourceSQL string) (*sql.Stmt, error) {
	shadow := collateICURe.ReplaceAllString(sourceSQL, "")
	if ftsJoinRe.MatchString(shadow) {
		shadow = "SELECT 1 WHERE 0"
	}
	stmt, err := d.conn.Prepare(shadow)
	if err != nil {
		return nil, fmt.Errorf("embedlib: prepare: %w", err)
	}
	return stmt, nil
}

// PreparePlaceholder compiles a no-op placeholder statement for
// skip-pattern statements (spec.md §4.2 step 1).
func (d *DB) PreparePlaceholder() (*sql.Stmt, error) {
	return d.conn.Prepare("SELECT 1 WHERE 0")
}

// HasColumn reports whether table already has a column named column,
// using the embedded library's table_info pragma — used by the ALTER
// TABLE ADD COLUMN guard (spec.md §4.2 step 2).
func (d *DB) HasColumn(table, column string) (bool, error) {
	rows, err := d.conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return false, fmt.Errorf("embedlib: table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("embedlib: scan table_info row: %w", err)
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Exec executes sql against the embedded library directly, used for the
// pass-through fast path and as the fallback when remote execution fails
// (spec.md §4.2: "fall through to embedded step").
func (d *DB) Exec(sqlText string, args ...any) (sql.Result, error) {
	return d.conn.Exec(sqlText, args...)
}

// Query executes sql against the embedded library directly for the
// pass-through read fast path.
func (d *DB) Query(sqlText string, args ...any) (*sql.Rows, error) {
	return d.conn.Query(sqlText, args...)
}
