package backup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIfDueDisabledWithoutFrequency(t *testing.T) {
	store := newTestStore(t)
	scheduler := NewScheduler(NewBuilder(store, "dev"))

	taken, err := scheduler.RunIfDue(context.Background())
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestRunIfDueTakesAndRecordsSnapshot(t *testing.T) {
	store := newTestStore(t)
	seedStore(t, store)
	scheduler := NewScheduler(NewBuilder(store, "dev"))
	ctx := context.Background()

	require.NoError(t, scheduler.SetFrequency(ctx, FrequencyDaily))

	taken, err := scheduler.RunIfDue(ctx)
	require.NoError(t, err)
	assert.True(t, taken)

	stored, err := scheduler.ListStored(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 2, stored[0].Snapshot.Metadata.TotalExpenses)

	// one was just taken, so nothing is due now
	taken, err = scheduler.RunIfDue(ctx)
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestRunIfDueRespectsInterval(t *testing.T) {
	store := newTestStore(t)
	scheduler := NewScheduler(NewBuilder(store, "dev"))
	ctx := context.Background()

	require.NoError(t, scheduler.SetFrequency(ctx, FrequencyWeekly))

	// pretend the last backup was three days ago: weekly is not due yet
	threeDaysAgo := time.Now().Add(-3 * 24 * time.Hour).Format(time.RFC3339)
	require.NoError(t, store.PutKV(ctx, kvLastBackupAt, threeDaysAgo))

	taken, err := scheduler.RunIfDue(ctx)
	require.NoError(t, err)
	assert.False(t, taken)

	// eight days ago: due
	eightDaysAgo := time.Now().Add(-8 * 24 * time.Hour).Format(time.RFC3339)
	require.NoError(t, store.PutKV(ctx, kvLastBackupAt, eightDaysAgo))

	taken, err = scheduler.RunIfDue(ctx)
	require.NoError(t, err)
	assert.True(t, taken)
}

func TestSetFrequencyRejectsUnknown(t *testing.T) {
	store := newTestStore(t)
	scheduler := NewScheduler(NewBuilder(store, "dev"))

	assert.Error(t, scheduler.SetFrequency(context.Background(), Frequency("hourly")))
}

func TestEvictOldKeepsNewestFive(t *testing.T) {
	store := newTestStore(t)
	scheduler := NewScheduler(NewBuilder(store, "dev"))
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		key := snapshotPrefix + base.Add(time.Duration(i)*time.Hour).Format("20060102T150405.000000000")
		require.NoError(t, store.PutKV(ctx, key, fmt.Sprintf(`{"version":"1.0","n":%d}`, i)))
	}

	require.NoError(t, scheduler.evictOld(ctx))

	keys, err := store.ListKVKeys(ctx, snapshotPrefix)
	require.NoError(t, err)
	require.Len(t, keys, MaxRetained)

	// the two oldest are gone, strictly first-in first-out
	assert.Equal(t, snapshotPrefix+"20250601T140000.000000000", keys[0])
	assert.Equal(t, snapshotPrefix+"20250601T180000.000000000", keys[len(keys)-1])
}

func TestTakeSnapshotSameSecondKeepsBoth(t *testing.T) {
	store := newTestStore(t)
	scheduler := NewScheduler(NewBuilder(store, "dev"))
	ctx := context.Background()

	// two snapshots taken within the same wall-clock second must land
	// under distinct keys instead of silently overwriting each other
	require.NoError(t, scheduler.takeSnapshot(ctx))
	require.NoError(t, scheduler.takeSnapshot(ctx))

	keys, err := store.ListKVKeys(ctx, snapshotPrefix)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.NotEqual(t, keys[0], keys[1])
}
