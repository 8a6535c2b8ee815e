package statement

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mevdschee/pgshim/metrics"
	"github.com/mevdschee/pgshim/model"
	"github.com/mevdschee/pgshim/resultcache"
)

// StepOutcome is what the ABI surface translates back into SQLITE_ROW /
// SQLITE_DONE / an error code.
type StepOutcome int

const (
	StepRow StepOutcome = iota
	StepDone
	StepError
)

// Step implements spec.md §4.2's step algorithm.
func (e *Engine) Step(s *model.Statement, embeddedFallback func() (StepOutcome, error)) (StepOutcome, error) {
	s.Lock()
	defer s.Unlock()

	switch s.Role {
	case model.RoleSkipNoop:
		return StepDone, nil
	case model.RolePassThrough:
		return embeddedFallback()
	case model.RoleReadRedirected:
		return e.stepRead(s, embeddedFallback)
	case model.RoleWriteRedirected:
		return e.stepWrite(s, embeddedFallback)
	default:
		return embeddedFallback()
	}
}

func (e *Engine) stepRead(s *model.Statement, embeddedFallback func() (StepOutcome, error)) (StepOutcome, error) {
	if s.ReadDone() {
		return StepDone, nil
	}

	if result := s.ResultLocked(s.ExecutorConn); result != nil {
		result.Advance()
		if result.HasMore() {
			metrics.StatementStepTotal.WithLabelValues("read", "row").Inc()
			return StepRow, nil
		}
		s.MarkReadDone()
		s.ClearResultLocked()
		metrics.StatementStepTotal.WithLabelValues("read", "done").Inc()
		return StepDone, nil
	}

	tc := e.threads.current()
	params := BoundParams(s)
	fp := resultcache.Fingerprint(s.TranslatedSQL, params)

	if cached := tc.Results.Lookup(fp); cached != nil {
		result := cachedToResultSet(cached)
		s.SetResultLocked(result, cached, s.Conn)
		if result.HasMore() {
			metrics.StatementStepTotal.WithLabelValues("read", "row").Inc()
			return StepRow, nil
		}
		s.MarkReadDone()
		s.ClearResultLocked()
		metrics.StatementStepTotal.WithLabelValues("read", "done").Inc()
		return StepDone, nil
	}

	result, err := e.executeRemoteRead(s)
	if err != nil {
		e.recordRemoteFailure(s, err)
		outcome, ferr := embeddedFallback()
		surfaceIfFallbackFailed(s.Conn, ferr)
		return outcome, ferr
	}

	s.ExecutorConn = s.Conn
	if entry := resultSetToCached(fp, result); entry != nil {
		tc.Results.Store(fp, entry)
	}
	s.SetResultLocked(result, nil, s.Conn)
	if result.HasMore() {
		metrics.StatementStepTotal.WithLabelValues("read", "row").Inc()
		return StepRow, nil
	}
	s.MarkReadDone()
	s.ClearResultLocked()
	metrics.StatementStepTotal.WithLabelValues("read", "done").Inc()
	return StepDone, nil
}

func (e *Engine) stepWrite(s *model.Statement, embeddedFallback func() (StepOutcome, error)) (StepOutcome, error) {
	if s.WriteExecuted() {
		return StepDone, nil
	}

	affected, err := e.executeRemoteWrite(s)
	if err != nil {
		e.recordRemoteFailure(s, err)
		outcome, ferr := embeddedFallback()
		surfaceIfFallbackFailed(s.Conn, ferr)
		return outcome, ferr
	}
	s.Conn.SetLastChanges(affected)
	s.MarkWriteExecuted()
	metrics.StatementStepTotal.WithLabelValues("write", "done").Inc()
	return StepDone, nil
}

// paramsForRemote converts the statement's bound parameter bytes into
// driver values pgx can bind positionally.
func paramsForRemote(s *model.Statement) []any {
	raw := BoundParams(s)
	out := make([]any, len(raw))
	for i, b := range raw {
		if b == nil {
			out[i] = nil
			continue
		}
		out[i] = string(b)
	}
	return out
}

func (e *Engine) acquireSlot(ctx context.Context, s *model.Statement) (*model.PoolSlot, error) {
	tc := e.threads.current()
	slot, err := e.Pool.Acquire(ctx, s.Conn.Path, s.Conn.Schema, tc.PoolHint, tc.Tid)
	if err != nil {
		return nil, fmt.Errorf("statement: acquire pool slot: %w", err)
	}
	s.Conn.OwnerThread = tc.Tid
	return slot, nil
}

func (e *Engine) ensurePrepared(ctx context.Context, slot *model.PoolSlot, s *model.Statement) error {
	if s.StableName == "" {
		return nil
	}
	if s.Conn.IsPrepared(s.StableName) {
		return nil
	}
	if _, err := slot.Remote.Prepare(ctx, s.StableName, s.TranslatedSQL); err != nil {
		return err
	}
	s.Conn.MarkPrepared(s.StableName)
	return nil
}

func (e *Engine) executeRemoteRead(s *model.Statement) (*model.ResultSet, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.Conn.Lock()
	defer s.Conn.Unlock()

	slot, err := e.acquireSlot(ctx, s)
	if err != nil {
		return nil, err
	}
	defer e.Pool.Release(slot)

	result, err := e.queryOnSlot(ctx, slot, s)
	if err != nil {
		e.tripHealthCheck(slot, s.Conn.Schema)
		return nil, err
	}
	return result, nil
}

func (e *Engine) queryOnSlot(ctx context.Context, slot *model.PoolSlot, s *model.Statement) (*model.ResultSet, error) {
	if err := e.ensurePrepared(ctx, slot, s); err != nil {
		return nil, err
	}

	started := time.Now()
	rows, err := slot.Remote.Query(ctx, s.StableName, paramsForRemote(s)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	metrics.RemoteQueryLatency.WithLabelValues("read").Observe(time.Since(started).Seconds())

	return scanRows(rows)
}

// tripHealthCheck runs the pool's recovery sequence in the background
// after a remote operation fails (spec.md §4.2 "On failure": "trip
// connection health check").
func (e *Engine) tripHealthCheck(slot *model.PoolSlot, schema string) {
	go func() {
		if err := e.Pool.HealthCheck(context.Background(), slot, schema); err != nil {
			log.Printf("[Statement] health check failed for slot: %v", err)
		}
	}()
}

func (e *Engine) executeRemoteWrite(s *model.Statement) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.Conn.Lock()
	defer s.Conn.Unlock()

	slot, err := e.acquireSlot(ctx, s)
	if err != nil {
		return 0, err
	}
	defer e.Pool.Release(slot)

	affected, err := e.execOnSlot(ctx, slot, s)
	if err != nil {
		e.tripHealthCheck(slot, s.Conn.Schema)
		return 0, err
	}
	return affected, nil
}

// execOnSlot runs a redirected write through Query rather than Exec:
// the translator appends a RETURNING id clause to every redirected INSERT (spec.md
// §7 scenario S3), and pgx's Query works uniformly whether or not the
// statement actually returns rows, letting one code path capture both
// the affected-row count and any returned id.
func (e *Engine) execOnSlot(ctx context.Context, slot *model.PoolSlot, s *model.Statement) (int64, error) {
	if err := e.ensurePrepared(ctx, slot, s); err != nil {
		return 0, err
	}

	started := time.Now()
	rows, err := slot.Remote.Query(ctx, s.StableName, paramsForRemote(s)...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var lastID int64
	for rows.Next() {
		values, verr := rows.Values()
		if verr != nil {
			return 0, verr
		}
		if len(values) > 0 {
			if id, ok := values[0].(int64); ok {
				lastID = id
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	metrics.RemoteQueryLatency.WithLabelValues("write").Observe(time.Since(started).Seconds())

	if lastID != 0 {
		s.Conn.SetLastInsertRowID(lastID)
	}
	return rows.CommandTag().RowsAffected(), nil
}

func scanRows(rows pgx.Rows) (*model.ResultSet, error) {
	fields := rows.FieldDescriptions()
	result := &model.ResultSet{
		Columns:    make([]string, len(fields)),
		ColumnOIDs: make([]uint32, len(fields)),
	}
	for i, f := range fields {
		result.Columns[i] = string(f.Name)
		result.ColumnOIDs[i] = f.DataTypeOID
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make([]any, len(values))
		nulls := make([]bool, len(values))
		for i, v := range values {
			if v == nil {
				nulls[i] = true
			}
			row[i] = v
		}
		result.Rows = append(result.Rows, row)
		result.NullMap = append(result.NullMap, nulls)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func cachedToResultSet(c *model.CachedResult) *model.ResultSet {
	result := &model.ResultSet{
		Columns:    c.ColumnNames,
		ColumnOIDs: c.ColumnOIDs,
		Rows:       make([][]any, len(c.RowBytes)),
		NullMap:    c.NullMap,
	}
	for i, row := range c.RowBytes {
		converted := make([]any, len(row))
		for j, b := range row {
			if c.NullMap[i][j] {
				continue
			}
			converted[j] = b
		}
		result.Rows[i] = converted
	}
	return result
}

func resultSetToCached(fp uint64, result *model.ResultSet) *model.CachedResult {
	if len(result.Rows) == 0 {
		return nil
	}
	rowBytes := make([][][]byte, len(result.Rows))
	for i, row := range result.Rows {
		cols := make([][]byte, len(row))
		for j, v := range row {
			if v == nil {
				continue
			}
			cols[j] = []byte(fmt.Sprintf("%v", v))
		}
		rowBytes[i] = cols
	}
	return model.NewCachedResult(fp, result.Columns, result.ColumnOIDs, rowBytes, result.NullMap, nil)
}
