package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/repositories/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptTracker_ConcurrentFailuresAreCounted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttemptsPerAccount = 1000
	clk := newMockClock()
	store := memory.NewAttemptStore(clk)
	tracker := NewAttemptTracker(store, cfg, clk, testLogger())

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := tracker.RecordFailure(context.Background(), "u1@example.com", models.IdentifierTypeEmail, "1.2.3.4", "bad password")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := store.Get(context.Background(), "u1@example.com", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, workers, rec.AttemptCount)
	require.NotNil(t, rec.LastFailureReason)
	assert.Equal(t, "bad password", *rec.LastFailureReason)
	assert.Equal(t, testStart, rec.FirstAttemptAt)
}

func TestAttemptTracker_OnlyOneFailureReportsNewLock(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttemptsPerAccount = 3
	clk := newMockClock()
	tracker := NewAttemptTracker(memory.NewAttemptStore(clk), cfg, clk, testLogger())
	ctx := context.Background()

	var locks int
	for i := 0; i < 6; i++ {
		_, newlyLocked, err := tracker.RecordFailure(ctx, "u1@example.com", "", "1.2.3.4", "")
		require.NoError(t, err)
		if newlyLocked {
			locks++
		}
	}

	assert.Equal(t, 1, locks)
}

func TestAttemptTracker_DefaultIdentifierType(t *testing.T) {
	clk := newMockClock()
	store := memory.NewAttemptStore(clk)
	tracker := NewAttemptTracker(store, testConfig(), clk, testLogger())
	ctx := context.Background()

	rec, _, err := tracker.RecordFailure(ctx, "alice", "", "1.2.3.4", "")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultIdentifierType, rec.IdentifierType)

	// An explicit type wins and a later untyped failure keeps it.
	_, _, err = tracker.RecordFailure(ctx, "bob", models.IdentifierTypeUsername, "1.2.3.4", "")
	require.NoError(t, err)
	rec, _, err = tracker.RecordFailure(ctx, "bob", "", "1.2.3.4", "")
	require.NoError(t, err)
	assert.Equal(t, models.IdentifierTypeUsername, rec.IdentifierType)

	manual, err := tracker.Lock(ctx, "carol", time.Hour, models.LockReasonAdministrator)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultIdentifierType, manual.IdentifierType)
}

func TestAttemptTracker_StoreErrorsPropagate(t *testing.T) {
	tracker := NewAttemptTracker(&MockAttemptStore{
		ResetByIdentifierFunc: func(context.Context, string) (int64, error) { return 0, errStoreDown },
		DeleteFunc:            func(context.Context, string, string) (int64, error) { return 0, errStoreDown },
	}, testConfig(), newMockClock(), testLogger())
	ctx := context.Background()

	_, err := tracker.Unlock(ctx, "u1@example.com")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	_, err = tracker.Clear(ctx, "u1@example.com", "")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}
