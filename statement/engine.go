// Package statement implements the prepare/bind/step/reset/finalize
// state machine that is the shim's largest component (spec.md §4.2): it
// recognizes redirected statements via the registries, translates their
// SQL, executes them against the pooled remote session or the embedded
// shadow statement, and keeps the two in sync.
package statement

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/mevdschee/pgshim/config"
	"github.com/mevdschee/pgshim/embedlib"
	"github.com/mevdschee/pgshim/fakevalue"
	"github.com/mevdschee/pgshim/metrics"
	"github.com/mevdschee/pgshim/model"
	"github.com/mevdschee/pgshim/pool"
	"github.com/mevdschee/pgshim/registry"
	"github.com/mevdschee/pgshim/worker"
)

// Engine is the facade that owns every registry, pool, and cache the
// statement state machine needs, and is the sole entry point the ABI
// surface calls into (spec.md §4).
type Engine struct {
	Config *config.Config

	Statements  *registry.StatementRegistry
	Connections *registry.ConnectionRegistry
	Pool        *pool.Pool
	FakeValues  *fakevalue.Pool
	Worker      *worker.Delegator

	threads threadRegistry

	shadowMu sync.Mutex
	shadow   map[string]*embedlib.DB // path -> embedded handle, one per path
}

// New builds an engine wired to cfg. The worker delegator's handler
// re-enters Prepare with fromWorker set, matching spec.md §4.4's "the
// worker calls back into the prepare path with a from-worker flag set".
func New(cfg *config.Config) *Engine {
	e := &Engine{
		Config:      cfg,
		Statements:  registry.NewStatementRegistry(),
		Connections: registry.NewConnectionRegistry(),
		FakeValues:  fakevalue.NewPool(),
		shadow:      make(map[string]*embedlib.DB),
	}
	e.Pool = pool.New(e.dial)
	e.Worker = worker.Start(func(arg any) (any, error) {
		req := arg.(prepareRequest)
		return e.prepare(req.conn, req.sourceSQL, true)
	})
	return e
}

// Close shuts down the worker and every embedded handle the engine
// opened.
func (e *Engine) Close() {
	e.Worker.Shutdown()
	e.shadowMu.Lock()
	defer e.shadowMu.Unlock()
	for path, db := range e.shadow {
		if err := db.Close(); err != nil {
			log.Printf("[Statement] error closing embedded handle for %s: %v", path, err)
		}
	}
}

// dial is the pool.Dialer: it opens a fresh remote PostgreSQL session
// and applies the connection-level settings spec.md §4.3 requires
// (search_path, statement_timeout) before the slot is marked ready.
func (e *Engine) dial(ctx context.Context, schema string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, e.Config.DSN())
	if err != nil {
		return nil, fmt.Errorf("statement: dial: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", schema)); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("statement: set search_path: %w", err)
	}
	if _, err := conn.Exec(ctx, "SET statement_timeout = 30000"); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("statement: set statement_timeout: %w", err)
	}
	return conn, nil
}

// embeddedFor returns (opening if necessary) the embedded library
// handle for path. There is exactly one per path, shared across
// threads — the shadow statements it compiles are what get handed back
// to the host (spec.md §4.2 step 4).
func (e *Engine) embeddedFor(path string) (*embedlib.DB, error) {
	e.shadowMu.Lock()
	defer e.shadowMu.Unlock()
	if db, ok := e.shadow[path]; ok {
		return db, nil
	}
	db, err := embedlib.Open(path)
	if err != nil {
		return nil, err
	}
	e.shadow[path] = db
	return db, nil
}

// OpenConnection opens path (via the embedded library) and registers a
// Connection record, deciding redirection per the configured patterns
// (spec.md §6 "Redirect policy").
func (e *Engine) OpenConnection(handle uintptr, path string) (*model.Connection, error) {
	if _, err := e.embeddedFor(path); err != nil {
		return nil, err
	}
	conn := model.NewConnection(path)
	conn.Schema = e.Config.PGSchema
	if !e.Config.IsRedirected(path) {
		conn.DisableRedirection()
	}
	e.Connections.Insert(handle, conn)
	return conn, nil
}

// CloseConnection removes path's connection record. The embedded
// handle itself is kept open (it's shared by path, not by handle) until
// Engine.Close.
func (e *Engine) CloseConnection(handle uintptr) {
	e.Connections.Remove(handle)
}

type prepareRequest struct {
	conn      *model.Connection
	sourceSQL string
}

// recordRemoteFailure disables this statement's redirection and falls
// back to the embedded path (spec.md §4.2 "On failure"). The pool
// health check that precedes this call (tripHealthCheck, run while the
// failing slot was still in scope) is a separate concern.
func (e *Engine) recordRemoteFailure(stmt *model.Statement, err error) {
	log.Printf("[Statement] remote execution failed, falling back to embedded: %v", err)
	stmt.ClearResultLocked()
	stmt.Role = model.RolePassThrough
	metrics.StatementStepTotal.WithLabelValues(roleLabel(stmt.Role), "error").Inc()
}

func roleLabel(r model.Role) string {
	switch r {
	case model.RoleWriteRedirected:
		return "write"
	case model.RoleReadRedirected:
		return "read"
	case model.RoleSkipNoop:
		return "skip"
	default:
		return "passthrough"
	}
}
