package syncqueue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/core"
	"conti/internal/remote/memory"
	"conti/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "conti.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func addExpense(t *testing.T, store *storage.SQLiteRepository, desc string) int64 {
	t.Helper()
	id, err := store.CreateExpense(context.Background(), core.Expense{
		Date:        core.NewDate(2025, 5, 10),
		Description: desc,
		Amount:      core.Money{Cents: 1500},
		Primary:     "Spesa",
	})
	require.NoError(t, err)
	return id
}

func collectEvents(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestForceSyncDeliversAllInOrder(t *testing.T) {
	store := newTestStore(t)
	deliverer := memory.New()
	p := New(store, deliverer, DefaultConfig())
	ctx := context.Background()

	var ids []int64
	for _, desc := range []string{"a", "b", "c"} {
		ids = append(ids, addExpense(t, store, desc))
	}

	require.NoError(t, p.ForceSync(ctx))

	delivered := deliverer.Delivered()
	require.Len(t, delivered, 3)
	for i, m := range delivered {
		assert.Equal(t, ids[i], m.EntityID, "oldest mutation delivered first")
		assert.Equal(t, core.OpCreate, m.Operation)
		assert.Equal(t, core.EntityExpense, m.EntityType)
	}

	n, err := store.CountPendingQueueEntries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "delivered entries leave the queue")

	for _, id := range ids {
		e, err := store.GetExpense(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.SyncSynced, e.SyncStatus)
	}
}

func TestForceSyncOffline(t *testing.T) {
	store := newTestStore(t)
	p := New(store, memory.New(), DefaultConfig())
	ctx := context.Background()

	p.SetOnline(ctx, false)
	assert.ErrorIs(t, p.ForceSync(ctx), ErrOffline)
	assert.False(t, p.Online())

	p.SetOnline(ctx, true)
	assert.NoError(t, p.ForceSync(ctx))
}

func TestTransientFailureKeepsEntryQueued(t *testing.T) {
	store := newTestStore(t)
	deliverer := memory.New()
	p := New(store, deliverer, DefaultConfig())
	ctx := context.Background()

	addExpense(t, store, "flaky")
	deliverer.FailNext(1, errors.New("temporarily unavailable"))

	events, unsubscribe := p.Subscribe()
	defer unsubscribe()

	require.NoError(t, p.ForceSync(ctx))

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending, "entry stays queued after a transient failure")
	assert.Zero(t, stats.Failed)

	got := collectEvents(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventRetryScheduled, got[0].Kind)
	assert.Equal(t, 1, got[0].RetryCount)

	// next pass succeeds and clears the queue
	require.NoError(t, p.ForceSync(ctx))
	stats, err = p.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Len(t, deliverer.Delivered(), 1)
}

func TestAbandonAfterMaxRetries(t *testing.T) {
	store := newTestStore(t)
	deliverer := memory.New()
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	p := New(store, deliverer, cfg)
	ctx := context.Background()

	id := addExpense(t, store, "doomed")
	deliverer.FailAlways(errors.New("remote rejects everything"))

	events, unsubscribe := p.Subscribe()
	defer unsubscribe()

	// each pass makes exactly one attempt per entry
	for i := 0; i < cfg.MaxRetries; i++ {
		require.NoError(t, p.ForceSync(ctx))
	}

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending, "abandoned entry leaves the drainable queue")
	assert.Equal(t, int64(1), stats.Failed)

	e, err := store.GetExpense(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.SyncFailed, e.SyncStatus)

	got := collectEvents(events)
	require.Len(t, got, 3)
	assert.Equal(t, EventRetryScheduled, got[0].Kind)
	assert.Equal(t, EventRetryScheduled, got[1].Kind)
	assert.Equal(t, EventAbandoned, got[2].Kind)
	assert.Equal(t, id, got[2].EntityID)

	var abandoned *AbandonedError
	require.ErrorAs(t, got[2].Err, &abandoned)
	assert.Equal(t, 3, abandoned.Attempts)

	// a further pass attempts nothing
	require.NoError(t, p.ForceSync(ctx))
	assert.Empty(t, deliverer.Delivered())
}

func TestRetryFailedResetsAbandonedEntries(t *testing.T) {
	store := newTestStore(t)
	deliverer := memory.New()
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	p := New(store, deliverer, cfg)
	ctx := context.Background()

	addExpense(t, store, "second chance")
	deliverer.FailAlways(errors.New("down"))
	for i := 0; i < cfg.MaxRetries; i++ {
		require.NoError(t, p.ForceSync(ctx))
	}

	deliverer.FailAlways(nil)

	n, err := p.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, p.ForceSync(ctx))
	assert.Len(t, deliverer.Delivered(), 1)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Failed)
}

func TestStartStopLifecycle(t *testing.T) {
	store := newTestStore(t)
	p := New(store, memory.New(), DefaultConfig())
	ctx := context.Background()

	require.NoError(t, p.Start(ctx))
	assert.True(t, p.IsRunning())
	assert.Error(t, p.Start(ctx), "double start must fail")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(stopCtx))
	assert.False(t, p.IsRunning())

	// stopping again is a no-op
	require.NoError(t, p.Stop(stopCtx))
}

func TestStartDrainsExistingEntries(t *testing.T) {
	store := newTestStore(t)
	deliverer := memory.New()
	p := New(store, deliverer, DefaultConfig())
	ctx := context.Background()

	addExpense(t, store, "left over from last run")

	require.NoError(t, p.Start(ctx))
	defer p.Stop(ctx)

	require.Eventually(t, func() bool {
		return len(deliverer.Delivered()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDeleteMutationHasNoPayload(t *testing.T) {
	store := newTestStore(t)
	deliverer := memory.New()
	p := New(store, deliverer, DefaultConfig())
	ctx := context.Background()

	id := addExpense(t, store, "short lived")
	require.NoError(t, store.DeleteExpense(ctx, id))
	require.NoError(t, p.ForceSync(ctx))

	delivered := deliverer.Delivered()
	require.Len(t, delivered, 2)
	assert.Equal(t, core.OpDelete, delivered[1].Operation)
	assert.Empty(t, delivered[1].Data)
}
