package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/loginguard/internal/clock"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func increment(now time.Time) func(*models.AttemptRecord) error {
	return func(r *models.AttemptRecord) error {
		r.AttemptCount++
		r.LastAttemptAt = now
		return nil
	}
}

func TestAttemptStore_UpsertConcurrentIncrementsAreNotLost(t *testing.T) {
	store := NewAttemptStore(clock.NewMock(testNow))
	ctx := context.Background()

	const workers = 64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Upsert(ctx, "u1@example.com", "1.2.3.4", increment(testNow))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := store.Get(ctx, "u1@example.com", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, workers, rec.AttemptCount)
	assert.Equal(t, 1, store.Len())
}

func TestAttemptStore_UpsertCallbackErrorAbortsWrite(t *testing.T) {
	store := NewAttemptStore(clock.NewMock(testNow))
	ctx := context.Background()

	_, err := store.Upsert(ctx, "u1", "1.2.3.4", func(*models.AttemptRecord) error {
		return models.ErrBadRequest
	})
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = store.Get(ctx, "u1", "1.2.3.4")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAttemptStore_ReturnedRecordsAreCopies(t *testing.T) {
	store := NewAttemptStore(clock.NewMock(testNow))
	ctx := context.Background()

	rec, err := store.Upsert(ctx, "u1", "1.2.3.4", increment(testNow))
	require.NoError(t, err)
	rec.AttemptCount = 99

	got, err := store.Get(ctx, "u1", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestAttemptStore_ListByClientIPRespectsWindow(t *testing.T) {
	store := NewAttemptStore(clock.NewMock(testNow))
	ctx := context.Background()

	_, _ = store.Upsert(ctx, "old", "9.9.9.9", increment(testNow.Add(-2*time.Hour)))
	_, _ = store.Upsert(ctx, "new", "9.9.9.9", increment(testNow.Add(-10*time.Minute)))
	_, _ = store.Upsert(ctx, "other", "8.8.8.8", increment(testNow))

	recs, err := store.ListByClientIP(ctx, "9.9.9.9", testNow.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].Identifier)
}

func TestAttemptStore_ResetAndDelete(t *testing.T) {
	store := NewAttemptStore(clock.NewMock(testNow))
	ctx := context.Background()

	for _, ip := range []string{"1.1.1.1", "2.2.2.2"} {
		_, err := store.Upsert(ctx, "u1", ip, func(r *models.AttemptRecord) error {
			r.AttemptCount = 5
			r.Lock(testNow.Add(time.Hour), models.LockReasonTooManyAttempts)
			return nil
		})
		require.NoError(t, err)
	}

	locked, err := store.ListLocked(ctx, testNow)
	require.NoError(t, err)
	assert.Len(t, locked, 2)

	n, err := store.ResetByIdentifier(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	locked, err = store.ListLocked(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, locked)

	n, err = store.Delete(ctx, "u1", "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Delete(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, store.Len())
}

func TestAttemptStore_DeleteStaleKeepsLockedRecords(t *testing.T) {
	store := NewAttemptStore(clock.NewMock(testNow))
	ctx := context.Background()
	stale := testNow.Add(-48 * time.Hour)

	_, _ = store.Upsert(ctx, "stale", "1.1.1.1", increment(stale))
	_, _ = store.Upsert(ctx, "fresh", "1.1.1.1", increment(testNow))
	_, _ = store.Upsert(ctx, "locked", "1.1.1.1", func(r *models.AttemptRecord) error {
		r.AttemptCount = 5
		r.LastAttemptAt = stale
		r.Lock(testNow.Add(time.Hour), models.LockReasonAdministrator)
		return nil
	})

	n, err := store.DeleteStale(ctx, testNow.Add(-24*time.Hour), testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, "locked", "1.1.1.1")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "stale", "1.1.1.1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
