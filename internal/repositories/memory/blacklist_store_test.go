package memory

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/loginguard/internal/clock"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlacklistStore_UpsertReplacesAndKeepsID(t *testing.T) {
	store := NewBlacklistStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &models.IPBlacklistEntry{ID: "first", IPAddress: "1.2.3.4", Reason: "a"}))
	require.NoError(t, store.Upsert(ctx, &models.IPBlacklistEntry{ID: "second", IPAddress: "1.2.3.4", Reason: "b"}))

	got, err := store.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "first", got.ID)
	assert.Equal(t, "b", got.Reason)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBlacklistStore_DeleteExpired(t *testing.T) {
	store := NewBlacklistStore()
	ctx := context.Background()
	past := testNow.Add(-time.Minute)
	future := testNow.Add(time.Minute)

	require.NoError(t, store.Upsert(ctx, &models.IPBlacklistEntry{IPAddress: "1.1.1.1", ExpiresAt: &past}))
	require.NoError(t, store.Upsert(ctx, &models.IPBlacklistEntry{IPAddress: "2.2.2.2", ExpiresAt: &future}))
	require.NoError(t, store.Upsert(ctx, &models.IPBlacklistEntry{IPAddress: "3.3.3.3"}))

	n, err := store.DeleteExpired(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Delete(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBlacklistStore_DeleteIfExpiredSparesLiveEntry(t *testing.T) {
	store := NewBlacklistStore()
	ctx := context.Background()
	past := testNow.Add(-time.Minute)

	require.NoError(t, store.Upsert(ctx, &models.IPBlacklistEntry{IPAddress: "1.1.1.1", ExpiresAt: &past}))
	// Replaced by a permanent ban after the expired one was read.
	require.NoError(t, store.Upsert(ctx, &models.IPBlacklistEntry{IPAddress: "1.1.1.1", Reason: "permanent"}))

	n, err := store.DeleteIfExpired(ctx, "1.1.1.1", testNow)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := store.Get(ctx, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, "permanent", got.Reason)

	require.NoError(t, store.Upsert(ctx, &models.IPBlacklistEntry{IPAddress: "2.2.2.2", ExpiresAt: &past}))
	n, err = store.DeleteIfExpired(ctx, "2.2.2.2", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBlacklistStore_TouchOnlyUpdatesExisting(t *testing.T) {
	store := NewBlacklistStore()
	ctx := context.Background()
	later := testNow.Add(time.Hour)

	touched, err := store.Touch(ctx, "9.9.9.9", later)
	require.NoError(t, err)
	assert.False(t, touched)
	_, err = store.Get(ctx, "9.9.9.9")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, store.Upsert(ctx, &models.IPBlacklistEntry{IPAddress: "9.9.9.9", Reason: "scanner", LastViolationAt: testNow}))
	touched, err = store.Touch(ctx, "9.9.9.9", later)
	require.NoError(t, err)
	assert.True(t, touched)

	got, err := store.Get(ctx, "9.9.9.9")
	require.NoError(t, err)
	assert.Equal(t, later, got.LastViolationAt)
	assert.Equal(t, "scanner", got.Reason)
}

func TestAuditLogStore_ListRecentNewestFirstThenDeleteOlder(t *testing.T) {
	clk := clock.NewMock(testNow)
	store := NewAuditLogStore(clk)
	ctx := context.Background()

	for _, ev := range []string{"a", "b", "c"} {
		_, err := store.Create(ctx, &models.AuditLog{EventType: ev})
		require.NoError(t, err)
		clk.Advance(time.Hour)
	}

	logs, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "c", logs[0].EventType)
	assert.Equal(t, "b", logs[1].EventType)

	n, err := store.DeleteOlderThan(ctx, testNow.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
