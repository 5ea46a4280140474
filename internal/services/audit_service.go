package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/pkg/logger"
)

// AuditLogStore persists audit rows
type AuditLogStore interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	ListRecent(ctx context.Context, limit int) ([]*models.AuditLog, error)
	GetByEventType(ctx context.Context, eventType string, limit int) ([]*models.AuditLog, error)
}

// AuditService handles audit logging with dual-write pattern (slog + database)
type AuditService struct {
	repo   AuditLogStore
	audit  *logger.AuditLogger
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuditLogStore, log *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		audit:  logger.NewAuditLogger(log),
		logger: log,
	}
}

// LogSecurityAction records an engine or administrator action. Persistence failures are
// logged and swallowed so they never fail the action itself.
func (s *AuditService) LogSecurityAction(ctx context.Context, entry *models.AuditLog) {
	event := logger.AuditEvent{
		EventType: entry.EventType,
		Success:   entry.Success,
		Metadata: map[string]string{
			"action":        entry.Action,
			"resource_type": entry.ResourceType,
		},
	}
	if entry.ActorID != nil {
		event.ActorID = *entry.ActorID
	}
	if entry.FailureReason != nil {
		event.FailureReason = *entry.FailureReason
	}
	if entry.IPAddress != nil {
		event.IPAddress = *entry.IPAddress
	}
	if entry.ResourceType == models.AuditResourceTypeAccount {
		event.Identifier = entry.ResourceID
	} else {
		event.Metadata["resource_id"] = entry.ResourceID
	}

	// Dual-write: immediate slog output
	s.audit.LogSecurityEvent(ctx, event)

	if _, err := s.repo.Create(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit log",
			slog.String("event_type", entry.EventType),
			slog.Any("error", err),
		)
	}
}

// ListRecent returns the newest audit rows, optionally filtered by event type
func (s *AuditService) ListRecent(ctx context.Context, eventType string, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var logs []*models.AuditLog
	var err error
	if eventType != "" {
		logs, err = s.repo.GetByEventType(ctx, eventType, limit)
	} else {
		logs, err = s.repo.ListRecent(ctx, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}
