package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/remote"
)

func TestPendingQueueBatchOrdering(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := repo.CreateExpense(ctx, testExpense())
		require.NoError(t, err)
		ids = append(ids, id)
	}

	entries, err := repo.PendingQueueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		assert.Equal(t, ids[i], entry.EntityID, "oldest mutation first")
	}

	// limit is honored
	entries, err = repo.PendingQueueBatch(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestIncrementQueueRetry(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateExpense(ctx, testExpense())
	require.NoError(t, err)

	entries, err := repo.PendingQueueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, repo.IncrementQueueRetry(ctx, entries[0].ID, "connection refused"))

	entries, err = repo.PendingQueueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.Equal(t, "connection refused", entries[0].LastError)
}

func TestMarkQueueFailedExcludesFromBatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateExpense(ctx, testExpense())
	require.NoError(t, err)

	entries, err := repo.PendingQueueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, repo.MarkQueueFailed(ctx, entries[0].ID, "gave up"))

	entries, err = repo.PendingQueueBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	stats, err := repo.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestRetryFailedQueueEntries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateExpense(ctx, testExpense())
	require.NoError(t, err)

	entries, err := repo.PendingQueueBatch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, repo.IncrementQueueRetry(ctx, entries[0].ID, "boom"))
	require.NoError(t, repo.MarkQueueFailed(ctx, entries[0].ID, "boom"))

	n, err := repo.RetryFailedQueueEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err = repo.PendingQueueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].RetryCount, "retry count resets on manual retry")
}

func TestRemoveQueueEntry(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateExpense(ctx, testExpense())
	require.NoError(t, err)

	entries, err := repo.PendingQueueBatch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, repo.RemoveQueueEntry(ctx, entries[0].ID))

	n, err := repo.CountPendingQueueEntries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPurgeFailedQueueEntries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateExpense(ctx, testExpense())
	require.NoError(t, err)

	entries, err := repo.PendingQueueBatch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, repo.MarkQueueFailed(ctx, entries[0].ID, "dead"))

	// cutoff before the entry's timestamp keeps it
	n, err := repo.PurgeFailedQueueEntries(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.PurgeFailedQueueEntries(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := repo.QueueStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Failed)
}

func TestQueueStatsOldest(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	stats, err := repo.QueueStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.True(t, stats.Oldest.IsZero())

	_, err = repo.CreateExpense(ctx, testExpense())
	require.NoError(t, err)

	stats, err = repo.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.False(t, stats.Oldest.IsZero())
	assert.WithinDuration(t, time.Now(), stats.Oldest, time.Minute)
}

func TestQueuePayloadDecodes(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := testExpense()
	_, err := repo.CreateExpense(ctx, e)
	require.NoError(t, err)

	entries, err := repo.PendingQueueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	decoded, err := remote.DecodeExpense(entries[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-15", decoded.Date.Format("2006-01-02"))
	assert.Equal(t, e.Amount.Cents, decoded.Amount.Cents)
	assert.Equal(t, e.Description, decoded.Description)
}
