package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/mevdschee/pgshim/config"
	"github.com/mevdschee/pgshim/metrics"
	"github.com/mevdschee/pgshim/model"
)

func init() {
	metrics.Init()
}

func TestPool_AcquireClaimsFreeSlot(t *testing.T) {
	p := New(func(ctx context.Context, schema string) (*pgx.Conn, error) {
		return nil, nil
	})
	hint := &Hint{}
	slot, err := p.Acquire(context.Background(), "/redirected/a.db", "public", hint, 1)
	require.NoError(t, err)
	require.Equal(t, model.SlotReady, slot.State())
	require.True(t, hint.valid, "expected hint to be populated")
}

func TestPool_AcquireReusesHint(t *testing.T) {
	calls := 0
	p := New(func(ctx context.Context, schema string) (*pgx.Conn, error) {
		calls++
		return nil, nil
	})
	hint := &Hint{}
	_, err := p.Acquire(context.Background(), "/redirected/a.db", "public", hint, 1)
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), "/redirected/a.db", "public", hint, 1)
	require.NoError(t, err, "second acquire")
	require.Equal(t, 1, calls, "want 1 dial call (hint reused)")
}

func TestPool_DialFailureMarksSlotError(t *testing.T) {
	wantErr := errors.New("dial refused")
	p := New(func(ctx context.Context, schema string) (*pgx.Conn, error) {
		return nil, wantErr
	})
	_, err := p.Acquire(context.Background(), "/redirected/a.db", "public", &Hint{}, 1)
	require.Error(t, err, "expected dial error to propagate")
}

func TestPool_ExhaustionWhenAllSlotsOwnedBySameThread(t *testing.T) {
	p := New(func(ctx context.Context, schema string) (*pgx.Conn, error) {
		return nil, nil
	})
	for i := 0; i < config.MaxConnections; i++ {
		_, err := p.Acquire(context.Background(), "/redirected/a.db", "public", &Hint{}, 1)
		require.NoErrorf(t, err, "filling pool at %d", i)
	}
	_, err := p.Acquire(context.Background(), "/redirected/a.db", "public", &Hint{}, 1)
	require.ErrorIs(t, err, ErrPoolExhausted)
}

func TestPool_EvictsSlotOwnedByDifferentThread(t *testing.T) {
	p := New(func(ctx context.Context, schema string) (*pgx.Conn, error) {
		return nil, nil
	})
	for i := 0; i < config.MaxConnections; i++ {
		_, err := p.Acquire(context.Background(), "/redirected/a.db", "public", &Hint{}, 1)
		require.NoErrorf(t, err, "filling pool at %d", i)
	}
	_, err := p.Acquire(context.Background(), "/redirected/b.db", "public", &Hint{}, 2)
	require.NoError(t, err, "expected eviction to free a slot for another thread")
}

func TestPool_ResetAfterFork(t *testing.T) {
	p := New(func(ctx context.Context, schema string) (*pgx.Conn, error) {
		return nil, nil
	})
	slot, err := p.Acquire(context.Background(), "/redirected/a.db", "public", &Hint{}, 1)
	require.NoError(t, err)
	p.ResetAfterFork()
	require.Equal(t, model.SlotFree, slot.State(), "want state free after fork reset")
	require.Equal(t, uint64(0), slot.Generation(), "want generation reset to 0")
}
