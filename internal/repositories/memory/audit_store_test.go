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

func TestAuditLogStore_ListRecentNewestFirst(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewAuditLogStore(clk)
	ctx := context.Background()

	for _, event := range []string{models.AuditEventAccountLock, models.AuditEventIPBlacklist, models.AuditEventAccountUnlock} {
		_, err := store.Create(ctx, &models.AuditLog{EventType: event, Success: true})
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}

	logs, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.AuditEventAccountUnlock, logs[0].EventType)
	assert.Equal(t, models.AuditEventIPBlacklist, logs[1].EventType)
	assert.NotEmpty(t, logs[0].ID)

	empty, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAuditLogStore_GetByEventType(t *testing.T) {
	store := NewAuditLogStore(clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Create(ctx, &models.AuditLog{EventType: models.AuditEventIPAutoBan, ResourceID: "10.0.0.1"})
		require.NoError(t, err)
	}
	_, err := store.Create(ctx, &models.AuditLog{EventType: models.AuditEventAccountLock})
	require.NoError(t, err)

	logs, err := store.GetByEventType(ctx, models.AuditEventIPAutoBan, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
	for _, l := range logs {
		assert.Equal(t, models.AuditEventIPAutoBan, l.EventType)
	}
}

func TestAuditLogStore_DeleteOlderThan(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewMock(start)
	store := NewAuditLogStore(clk)
	ctx := context.Background()

	_, err := store.Create(ctx, &models.AuditLog{EventType: models.AuditEventAccountLock})
	require.NoError(t, err)
	clk.Advance(48 * time.Hour)
	_, err = store.Create(ctx, &models.AuditLog{EventType: models.AuditEventAccountUnlock})
	require.NoError(t, err)

	n, err := store.DeleteOlderThan(ctx, start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	logs, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditEventAccountUnlock, logs[0].EventType)
}
