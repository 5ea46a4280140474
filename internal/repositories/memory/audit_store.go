package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/loginguard/internal/clock"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/google/uuid"
)

// AuditLogStore is an append-only audit log held in memory
type AuditLogStore struct {
	mu    sync.Mutex
	logs  []*models.AuditLog
	clock clock.Clock
}

// NewAuditLogStore creates an empty AuditLogStore
func NewAuditLogStore(clk clock.Clock) *AuditLogStore {
	return &AuditLogStore{clock: clk}
}

func (s *AuditLogStore) Create(_ context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *log
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.clock.Now()
	s.logs = append(s.logs, &stored)

	out := stored
	return &out, nil
}

// ListRecent returns up to limit rows, newest first.
func (s *AuditLogStore) ListRecent(_ context.Context, limit int) ([]*models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return []*models.AuditLog{}, nil
	}
	out := make([]*models.AuditLog, 0, min(limit, len(s.logs)))
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		l := *s.logs[i]
		out = append(out, &l)
	}
	return out, nil
}

// GetByEventType returns up to limit rows of eventType, newest first.
func (s *AuditLogStore) GetByEventType(_ context.Context, eventType string, limit int) ([]*models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.AuditLog, 0)
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.logs[i].EventType == eventType {
			l := *s.logs[i]
			out = append(out, &l)
		}
	}
	return out, nil
}

func (s *AuditLogStore) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.logs[:0]
	var n int64
	for _, l := range s.logs {
		if l.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	s.logs = kept
	return n, nil
}
