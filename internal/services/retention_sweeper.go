package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/loginguard/internal/clock"
	"github.com/BradenHooton/loginguard/internal/models"
)

// LoginLogCleaner deletes audit history older than a cutoff
type LoginLogCleaner interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// SweepResult reports rows removed by CleanExpiredLogs
type SweepResult struct {
	Logs      int64 `json:"logs"`
	Blacklist int64 `json:"blacklist"`
}

// RetentionSweeper expires stale state. It owns no timer.
type RetentionSweeper struct {
	attempts  AttemptStore
	blacklist BlacklistStore
	logs      LoginLogCleaner
	clock     clock.Clock
	logger    *slog.Logger
}

// NewRetentionSweeper creates a new RetentionSweeper. logs may be nil.
func NewRetentionSweeper(attempts AttemptStore, blacklist BlacklistStore, logs LoginLogCleaner, clk clock.Clock, logger *slog.Logger) *RetentionSweeper {
	return &RetentionSweeper{
		attempts:  attempts,
		blacklist: blacklist,
		logs:      logs,
		clock:     clk,
		logger:    logger,
	}
}

// CleanExpiredAttempts deletes unlocked records whose last failure is older than hoursToKeep.
func (s *RetentionSweeper) CleanExpiredAttempts(ctx context.Context, hoursToKeep int) (int64, error) {
	if hoursToKeep <= 0 {
		return 0, models.NewValidationError("hours_to_keep", "must be positive")
	}

	now := s.clock.Now()
	cutoff := now.Add(-time.Duration(hoursToKeep) * time.Hour)
	n, err := s.attempts.DeleteStale(ctx, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired attempts: %w", err)
	}

	s.logger.InfoContext(ctx, "expired attempt records cleaned",
		slog.Int64("deleted", n),
		slog.Time("cutoff", cutoff))
	return n, nil
}

// CleanExpiredLogs deletes audit rows older than daysToKeep and purges lapsed IP bans.
func (s *RetentionSweeper) CleanExpiredLogs(ctx context.Context, daysToKeep int) (SweepResult, error) {
	var res SweepResult
	if daysToKeep <= 0 {
		return res, models.NewValidationError("days_to_keep", "must be positive")
	}

	now := s.clock.Now()
	if s.logs != nil {
		cutoff := now.AddDate(0, 0, -daysToKeep)
		n, err := s.logs.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("failed to clean audit logs: %w", err)
		}
		res.Logs = n
	}

	n, err := s.blacklist.DeleteExpired(ctx, now)
	if err != nil {
		return res, fmt.Errorf("failed to clean expired blacklist entries: %w", err)
	}
	res.Blacklist = n

	s.logger.InfoContext(ctx, "expired logs cleaned",
		slog.Int64("audit_logs_deleted", res.Logs),
		slog.Int64("blacklist_deleted", res.Blacklist))
	return res, nil
}
