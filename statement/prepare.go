package statement

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/mevdschee/pgshim/config"
	"github.com/mevdschee/pgshim/metrics"
	"github.com/mevdschee/pgshim/model"
)

// startupSkipRe matches the first class of skip-pattern statements from
// spec.md §6 "Skip policy": transaction control, savepoints, vacuum,
// pragma, analyze of internal tables, attach/detach, load-extension.
var startupSkipRe = regexp.MustCompile(`(?i)^\s*(BEGIN|COMMIT|ROLLBACK|SAVEPOINT|RELEASE|VACUUM|PRAGMA|ANALYZE|ATTACH|DETACH|SELECT\s+load_extension)\b`)

func isSkipStatement(cfg *config.Config, sourceSQL string) bool {
	if startupSkipRe.MatchString(sourceSQL) {
		return true
	}
	return cfg.MatchesSkipPattern(sourceSQL)
}

var alterAddColumnRe = regexp.MustCompile(`(?i)^\s*ALTER\s+TABLE\s+([A-Za-z0-9_."]+)\s+ADD\s+COLUMN\s+([A-Za-z0-9_."]+)`)

// editForShadow applies the shadow-compile edits from spec.md §4.2 step
// 2 that aren't already handled by embedlib.PrepareShadow, returning the
// edited SQL and whether it turned out to be a no-op (an ADD COLUMN that
// already exists).
func (e *Engine) editForShadow(db shadowDB, sourceSQL string) (edited string, noop bool, err error) {
	edited = sourceSQL

	createRe := regexp.MustCompile(`(?i)^\s*CREATE\s+(TABLE|INDEX)\s+`)
	ifNotExistsRe := regexp.MustCompile(`(?i)^\s*CREATE\s+(TABLE|INDEX)\s+IF\s+NOT\s+EXISTS\b`)
	if createRe.MatchString(edited) && !ifNotExistsRe.MatchString(edited) {
		edited = createRe.ReplaceAllString(edited, "CREATE $1 IF NOT EXISTS ")
	}

	if m := alterAddColumnRe.FindStringSubmatch(sourceSQL); m != nil {
		table := strings.Trim(m[1], `".`)
		column := strings.Trim(m[2], `".`)
		has, herr := db.HasColumn(table, column)
		if herr != nil {
			return edited, false, herr
		}
		if has {
			return edited, true, nil
		}
	}

	return edited, false, nil
}

// shadowDB is the subset of *embedlib.DB the prepare path needs; kept
// as an interface so prepare logic is independently testable.
type shadowDB interface {
	HasColumn(table, column string) (bool, error)
}

// stableName computes the per-connection remote prepared-statement name
// from translated SQL (spec.md §4.2 step 5 "compute the stable name for
// remote prepare").
func stableName(translatedSQL string) string {
	sum := sha1.Sum([]byte(translatedSQL))
	return "pgshim_" + hex.EncodeToString(sum[:8])
}

// Prepare implements spec.md §4.2's prepare algorithm and registers the
// result in the global registry and this thread's recent cache. The
// unexported prepare takes fromWorker, set when the call is itself
// running inside the worker goroutine (spec.md §4.4: "it does not itself
// attempt re-delegation").
func (e *Engine) Prepare(handle uintptr, conn *model.Connection, sourceSQL string) (*model.Statement, error) {
	stmt, err := e.prepare(conn, sourceSQL, false)
	if err != nil {
		return nil, err
	}
	if err := e.Statements.Insert(handle, stmt); err != nil {
		return nil, err
	}
	tc := e.threads.current()
	evictedHandle, evicted := tc.Recent.Insert(handle, stmt)
	if evicted != nil && evicted.Release() {
		e.Statements.Remove(evictedHandle)
	}
	stmt.Retain()
	return stmt, nil
}

func (e *Engine) prepare(conn *model.Connection, sourceSQL string, fromWorker bool) (*model.Statement, error) {
	db, err := e.embeddedFor(conn.Path)
	if err != nil {
		return nil, err
	}

	// Step 1: skip-pattern statements become a tagged no-op.
	if isSkipStatement(e.Config, sourceSQL) {
		shadow, perr := db.PreparePlaceholder()
		if perr != nil {
			return nil, perr
		}
		s := model.NewStatement(conn, shadow, sourceSQL)
		s.Role = model.RoleSkipNoop
		return s, nil
	}

	// Step 2: shadow-only edits (IF NOT EXISTS, ADD COLUMN no-op guard).
	edited, noop, err := e.editForShadow(db, sourceSQL)
	if err != nil {
		return nil, err
	}
	if noop {
		shadow, perr := db.PreparePlaceholder()
		if perr != nil {
			return nil, perr
		}
		s := model.NewStatement(conn, shadow, sourceSQL)
		s.Role = model.RoleSkipNoop
		return s, nil
	}

	// Step 3: call-depth budget in place of C stack-room introspection.
	// A redirected read beyond the soft threshold is delegated to the
	// worker thread instead of failing.
	if !fromWorker {
		tc := e.threads.current()
		if tc.CallDepth >= config.WorkerDelegationDepth && conn.Redirected() && looksLikeRead(sourceSQL) {
			metrics.WorkerDelegationTotal.Inc()
			result, werr := e.Worker.Delegate(prepareRequest{conn: conn, sourceSQL: sourceSQL})
			if werr != nil {
				return nil, werr
			}
			return result.(*model.Statement), nil
		}
		if tc.CallDepth >= config.HardAbortDepth {
			conn.SetTrackedError("SQLITE_NOMEM", "pgshim: prepare call-depth budget exhausted")
			return nil, fmt.Errorf("statement: call-depth budget exhausted")
		}
		tc.CallDepth++
		defer func() { tc.CallDepth-- }()
	}

	// Step 4: compile the shadow statement; handed back to the host
	// regardless of where execution will actually happen.
	shadow, err := db.PrepareShadow(edited)
	if err != nil {
		return nil, err
	}
	s := model.NewStatement(conn, shadow, sourceSQL)

	// Step 5: redirected connections get a translated internal statement.
	if conn.Redirected() {
		redirectedWrite := looksLikeWrite(sourceSQL)
		tc := e.threads.current()
		res, terr := tc.Translate.TranslateCached(sourceSQL, redirectedWrite)
		if terr != nil {
			// Translation failure: treat as pass-through rather than fail
			// prepare outright (spec.md §4.1 "Failure model").
			s.Role = model.RolePassThrough
			conn.ClearTrackedError()
			return s, nil
		}
		s.TranslatedSQL = res.SQL
		s.ParamNames = res.ParamNames
		s.ParamCount = res.ParamCount
		s.StableName = stableName(res.SQL)
		if redirectedWrite {
			s.Role = model.RoleWriteRedirected
		} else {
			s.Role = model.RoleReadRedirected
		}
	} else {
		s.Role = model.RolePassThrough
	}

	conn.ClearTrackedError()
	return s, nil
}

var writeRe = regexp.MustCompile(`(?i)^\s*(INSERT|UPDATE|DELETE|REPLACE)\b`)

func looksLikeWrite(sql string) bool { return writeRe.MatchString(sql) }
func looksLikeRead(sql string) bool  { return !looksLikeWrite(sql) }
