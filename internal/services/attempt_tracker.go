package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/loginguard/internal/clock"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/pkg/logger"
)

const (
	maxDelayMultiplier = 6

	reasonProgressiveDelay = "too many failed attempts, retry later"
)

// AttemptStore persists failure counters keyed by (identifier, client IP)
type AttemptStore interface {
	Get(ctx context.Context, identifier, clientIP string) (*models.AttemptRecord, error)
	// Upsert loads or creates the record and applies fn atomically. Returning an error
	// from fn aborts without writing.
	Upsert(ctx context.Context, identifier, clientIP string, fn func(rec *models.AttemptRecord) error) (*models.AttemptRecord, error)
	ListByIdentifier(ctx context.Context, identifier string) ([]*models.AttemptRecord, error)
	ListByClientIP(ctx context.Context, clientIP string, since time.Time) ([]*models.AttemptRecord, error)
	ListLocked(ctx context.Context, now time.Time) ([]*models.AttemptRecord, error)
	ResetByIdentifier(ctx context.Context, identifier string) (int64, error)
	// Delete removes the pair, or every pair for identifier when clientIP is empty.
	Delete(ctx context.Context, identifier, clientIP string) (int64, error)
	DeleteStale(ctx context.Context, olderThan, now time.Time) (int64, error)
}

// AttemptTracker counts failures per pair and decides lockout and retry delay
type AttemptTracker struct {
	store  AttemptStore
	config SecurityConfig
	clock  clock.Clock
	logger *slog.Logger
}

// NewAttemptTracker creates a new AttemptTracker
func NewAttemptTracker(store AttemptStore, config SecurityConfig, clk clock.Clock, logger *slog.Logger) *AttemptTracker {
	return &AttemptTracker{
		store:  store,
		config: config,
		clock:  clk,
		logger: logger,
	}
}

// ProgressiveWait returns the seconds a caller must still wait after count failures,
// the last of which happened at lastAttempt.
func ProgressiveWait(count int, lastAttempt time.Time, baseSeconds int, now time.Time) int64 {
	if count <= 2 || baseSeconds <= 0 {
		return 0
	}
	multiplier := min(count-2, maxDelayMultiplier)
	total := int64(baseSeconds) << multiplier

	elapsed := int64(now.Sub(lastAttempt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	return max(0, total-elapsed)
}

// Evaluate returns the per-account decision for a pair. An administrator lock on the
// identifier blocks every client IP.
func (t *AttemptTracker) Evaluate(ctx context.Context, identifier, clientIP string) (*models.LoginAttemptResult, error) {
	now := t.clock.Now()

	manual, err := t.get(ctx, identifier, models.ManualLockClientIP)
	if err != nil {
		return nil, err
	}
	if manual != nil && manual.IsLocked(now) {
		return lockedResult(manual, models.LockReasonAdministrator), nil
	}

	rec, err := t.get(ctx, identifier, clientIP)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &models.LoginAttemptResult{
			Allowed:           true,
			RemainingAttempts: t.config.MaxAttemptsPerAccount,
			LockLevel:         models.LockLevelNone,
		}, nil
	}

	if rec.IsLocked(now) {
		return lockedResult(rec, models.LockReasonTooManyAttempts), nil
	}

	remaining := max(0, t.config.MaxAttemptsPerAccount-rec.AttemptCount)
	if wait := ProgressiveWait(rec.AttemptCount, rec.LastAttemptAt, t.config.ProgressiveDelayBaseSeconds, now); wait > 0 {
		return &models.LoginAttemptResult{
			Allowed:           false,
			Reason:            reasonProgressiveDelay,
			RemainingAttempts: remaining,
			WaitSeconds:       wait,
			LockLevel:         models.LockLevelNone,
		}, nil
	}

	return &models.LoginAttemptResult{
		Allowed:           true,
		RemainingAttempts: remaining,
		LockLevel:         models.LockLevelNone,
	}, nil
}

// RecordFailure increments the pair counter and locks it once the limit is reached.
// newlyLocked is true only for the failure that moved the pair into a lock.
func (t *AttemptTracker) RecordFailure(ctx context.Context, identifier, identifierType, clientIP, reason string) (rec *models.AttemptRecord, newlyLocked bool, err error) {
	now := t.clock.Now()

	rec, err = t.store.Upsert(ctx, identifier, clientIP, func(r *models.AttemptRecord) error {
		newlyLocked = false
		wasLocked := r.IsLocked(now)

		if r.AttemptCount == 0 {
			r.FirstAttemptAt = now
		}
		if identifierType != "" {
			r.IdentifierType = identifierType
		} else if r.IdentifierType == "" {
			r.IdentifierType = models.DefaultIdentifierType
		}
		r.AttemptCount++
		r.LastAttemptAt = now
		if reason != "" {
			failure := reason
			r.LastFailureReason = &failure
		}

		if r.AttemptCount >= t.config.MaxAttemptsPerAccount {
			r.Lock(now.Add(t.config.lockDuration()), models.LockReasonTooManyAttempts)
			newlyLocked = !wasLocked
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to record failed attempt: %w", err)
	}

	if newlyLocked {
		t.logger.WarnContext(ctx, "account locked after failed attempts",
			slog.String("identifier", logger.SanitizedIdentifier(identifier)),
			slog.String("client_ip", clientIP),
			slog.Int("attempt_count", rec.AttemptCount),
			slog.Time("locked_until", *rec.LockedUntil))
	}

	return rec, newlyLocked, nil
}

// Lock applies an administrator lock to identifier across every client IP.
func (t *AttemptTracker) Lock(ctx context.Context, identifier string, d time.Duration, reason string) (*models.AttemptRecord, error) {
	now := t.clock.Now()
	until := now.Add(d)

	manual, err := t.store.Upsert(ctx, identifier, models.ManualLockClientIP, func(r *models.AttemptRecord) error {
		if r.FirstAttemptAt.IsZero() {
			r.FirstAttemptAt = now
		}
		if r.IdentifierType == "" {
			r.IdentifierType = models.DefaultIdentifierType
		}
		r.LastAttemptAt = now
		r.Lock(until, reason)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	pairs, err := t.store.ListByIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to list account pairs: %w", err)
	}
	for _, pair := range pairs {
		if pair.ClientIP == models.ManualLockClientIP {
			continue
		}
		_, err := t.store.Upsert(ctx, identifier, pair.ClientIP, func(r *models.AttemptRecord) error {
			r.Lock(until, reason)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to lock account pair: %w", err)
		}
	}

	return manual, nil
}

// Unlock clears counters and locks for identifier. It reports false when nothing matched.
func (t *AttemptTracker) Unlock(ctx context.Context, identifier string) (bool, error) {
	n, err := t.store.ResetByIdentifier(ctx, identifier)
	if err != nil {
		return false, fmt.Errorf("failed to unlock account: %w", err)
	}
	return n > 0, nil
}

// Clear deletes the pair, or all pairs for identifier when clientIP is empty.
func (t *AttemptTracker) Clear(ctx context.Context, identifier, clientIP string) (int64, error) {
	n, err := t.store.Delete(ctx, identifier, clientIP)
	if err != nil {
		return 0, fmt.Errorf("failed to clear failed attempts: %w", err)
	}
	return n, nil
}

// Locked lists records locked right now.
func (t *AttemptTracker) Locked(ctx context.Context) ([]*models.AttemptRecord, error) {
	recs, err := t.store.ListLocked(ctx, t.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list locked accounts: %w", err)
	}
	return recs, nil
}

func (t *AttemptTracker) get(ctx context.Context, identifier, clientIP string) (*models.AttemptRecord, error) {
	rec, err := t.store.Get(ctx, identifier, clientIP)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt record: %w", err)
	}
	return rec, nil
}

func lockedResult(rec *models.AttemptRecord, fallbackReason string) *models.LoginAttemptResult {
	reason := fallbackReason
	if rec.LockReason != nil && *rec.LockReason != "" {
		reason = *rec.LockReason
	}
	until := *rec.LockedUntil
	return &models.LoginAttemptResult{
		Allowed:           false,
		Reason:            reason,
		RemainingAttempts: 0,
		LockUntil:         &until,
		LockLevel:         models.LockLevelAccount,
	}
}
