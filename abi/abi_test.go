package abi

import (
	"path/filepath"
	"testing"

	"github.com/mevdschee/pgshim/config"
	"github.com/mevdschee/pgshim/statement"
)

func newTestSurface(t *testing.T) (*Surface, uintptr, string) {
	t.Helper()
	cfg := &config.Config{RedirectPatterns: []string{"/redirected/"}, SkipPatterns: []string{"icu_root"}, PGSchema: "public"}
	engine := statement.New(cfg)
	t.Cleanup(engine.Close)
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.db")
	return New(engine), 1, path
}

func TestSurface_OpenPrepareStepSkipStatement(t *testing.T) {
	s, dbHandle, path := newTestSurface(t)

	if err := s.Open(dbHandle, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stmtHandle := uintptr(100)
	if err := s.Prepare(dbHandle, stmtHandle, "PRAGMA journal_mode=WAL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := s.Step(stmtHandle, func() (StepOutcome, error) {
		t.Fatalf("embedded fallback should not run for a skip-noop statement")
		return StepError, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != StepDone {
		t.Fatalf("want StepDone, got %v", outcome)
	}
}

func TestSurface_UnknownHandlesReturnErrors(t *testing.T) {
	s, _, _ := newTestSurface(t)

	if err := s.Prepare(999, 999, "SELECT 1"); err == nil {
		t.Fatalf("expected an error for an unknown connection handle")
	}
	if err := s.BindInt64(999, 1, 1); err == nil {
		t.Fatalf("expected an error for an unknown statement handle")
	}
}

func TestSurface_ErrmsgPrefersTrackedError(t *testing.T) {
	s, dbHandle, path := newTestSurface(t)
	if err := s.Open(dbHandle, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := s.Errmsg(dbHandle, "not an error"); got != "not an error" {
		t.Fatalf("want embedded message, got %q", got)
	}

	conn, ok := s.connection(dbHandle)
	if !ok {
		t.Fatalf("expected connection to be registered")
	}
	conn.SetTrackedError("SQLITE_NOMEM", "tracked")
	if got := s.Errmsg(dbHandle, "not an error"); got != "tracked" {
		t.Fatalf("want tracked message, got %q", got)
	}
}

func TestSurface_CreateCollationAlwaysSucceeds(t *testing.T) {
	s, _, _ := newTestSurface(t)
	if err := s.CreateCollation("icu_root"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSurface_SQLAndExpandedSQLOnPassThrough(t *testing.T) {
	s, dbHandle, path := newTestSurface(t)
	if err := s.Open(dbHandle, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stmtHandle := uintptr(200)
	const query = "CREATE TABLE widgets (id INTEGER PRIMARY KEY)"
	if err := s.Prepare(dbHandle, stmtHandle, query); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := s.SQL(stmtHandle); got != query {
		t.Fatalf("want original SQL %q, got %q", query, got)
	}
	if got := s.ExpandedSQL(stmtHandle); got != query {
		t.Fatalf("want expanded SQL to fall back to original, got %q", got)
	}
}

func TestSurface_DBHandleRoundTrips(t *testing.T) {
	s, dbHandle, path := newTestSurface(t)
	if err := s.Open(dbHandle, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stmtHandle := uintptr(201)
	if err := s.Prepare(dbHandle, stmtHandle, "SELECT 1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := s.DBHandle(stmtHandle)
	if !ok {
		t.Fatalf("expected a resolvable db handle")
	}
	if got != dbHandle {
		t.Fatalf("want %v, got %v", dbHandle, got)
	}
}

func TestSurface_GetTableReturnsHeaderAndRows(t *testing.T) {
	s, dbHandle, path := newTestSurface(t)
	if err := s.Open(dbHandle, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	setup := uintptr(300)
	if err := s.Prepare(dbHandle, setup, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	setupStmt, ok := s.statement(setup)
	if !ok {
		t.Fatalf("expected the setup statement to be registered")
	}
	if _, err := s.Step(setup, func() (StepOutcome, error) {
		if _, err := setupStmt.Shadow.Exec(); err != nil {
			return StepError, err
		}
		return StepDone, nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := s.GetTable(dbHandle, "SELECT id FROM widgets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) == 0 || rows[0][0] != "id" {
		t.Fatalf("want a header row starting with id, got %v", rows)
	}
}

func TestSurface_MallocFreeAreNoops(t *testing.T) {
	s, _, _ := newTestSurface(t)
	if got := s.Malloc(64); got != 0 {
		t.Fatalf("want 0, got %v", got)
	}
	s.Free(0)
}
