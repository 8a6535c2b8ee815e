package statement

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mevdschee/pgshim/config"
	"github.com/mevdschee/pgshim/model"
)

func TestReset_SkipsEmbeddedResetForRedirectedRead(t *testing.T) {
	e := &Engine{}
	conn := model.NewConnection("/tmp/x.db")
	s := model.NewStatement(conn, nil, "SELECT 1")
	s.Role = model.RoleReadRedirected
	s.MarkReadDone()

	called := false
	err := e.Reset(s, func() error { called = true; return nil })
	require.NoError(t, err)
	require.False(t, called, "embedded reset should be skipped for a redirected-read statement")
	require.False(t, s.ReadDone(), "read-done latch should be cleared by reset")
}

func TestReset_ForwardsForPassThrough(t *testing.T) {
	e := &Engine{}
	conn := model.NewConnection("/tmp/x.db")
	s := model.NewStatement(conn, nil, "SELECT 1")
	s.Role = model.RolePassThrough

	called := false
	err := e.Reset(s, func() error { called = true; return nil })
	require.NoError(t, err)
	require.True(t, called, "embedded reset should be forwarded for pass-through statements")
}

func TestFinalize_RemovesFromRegistryAndInvalidatesRecent(t *testing.T) {
	cfg := &config.Config{RedirectPatterns: []string{"/redirected/"}, PGSchema: "public"}
	e := New(cfg)
	t.Cleanup(e.Close)

	dir := t.TempDir()
	path := filepath.Join(dir, "plain.db")
	conn, err := e.OpenConnection(1, path)
	require.NoError(t, err)

	stmt, err := e.Prepare(100, conn, "PRAGMA journal_mode=WAL")
	require.NoError(t, err)
	_, ok := e.Statements.Lookup(100)
	require.True(t, ok, "expected statement to be registered")

	called := false
	err = e.Finalize(100, stmt, func() error { called = true; return nil })
	require.NoError(t, err)
	require.True(t, called, "embedded finalize should run for a skip-noop statement")
	_, ok = e.Statements.Lookup(100)
	require.False(t, ok, "expected statement to be removed from the registry")
}

// TestFinalize_ReleasesBothRegistryReferences guards against the
// refcount leak where Finalize dropped the global registry's reference
// but left the recent-use cache's reference outstanding, so a
// statement's refcount never reached zero.
func TestFinalize_ReleasesBothRegistryReferences(t *testing.T) {
	cfg := &config.Config{RedirectPatterns: []string{"/redirected/"}, PGSchema: "public"}
	e := New(cfg)
	t.Cleanup(e.Close)

	dir := t.TempDir()
	path := filepath.Join(dir, "plain.db")
	conn, err := e.OpenConnection(1, path)
	require.NoError(t, err)

	stmt, err := e.Prepare(100, conn, "PRAGMA journal_mode=WAL")
	require.NoError(t, err)
	stmt.Retain() // simulate a third owner so the assertion below is meaningful

	err = e.Finalize(100, stmt, func() error { return nil })
	require.NoError(t, err)
	require.True(t, stmt.Release(), "the third owner's release should be the one that reaches zero")
}

func TestClearBindings_ZeroesScratchAndOverflow(t *testing.T) {
	e := &Engine{}
	s := newTestStatement()
	require.NoError(t, e.BindInt64(s, 1, 5))
	require.NoError(t, e.BindText(s, 2, "x"))

	e.ClearBindings(s)

	for _, b := range s.ParamScratch {
		require.Nil(t, b, "expected scratch to be cleared")
	}
	for _, b := range s.ParamOverflow {
		require.Nil(t, b, "expected overflow to be cleared")
	}
}

func TestSurfaceIfFallbackFailed_Integration(t *testing.T) {
	conn := model.NewConnection("/tmp/x.db")
	surfaceIfFallbackFailed(conn, errors.New("boom"))
	require.NotNil(t, conn.TrackedErrorState(), "expected tracked error to be set")
}
