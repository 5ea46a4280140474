package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/loginguard/internal/clock"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/google/uuid"
)

// BlacklistStore persists IP bans keyed by address
type BlacklistStore interface {
	Get(ctx context.Context, ip string) (*models.IPBlacklistEntry, error)
	// Upsert replaces any existing entry for entry.IPAddress.
	Upsert(ctx context.Context, entry *models.IPBlacklistEntry) error
	Delete(ctx context.Context, ip string) (int64, error)
	// DeleteIfExpired removes the entry for ip only if it is still expired at now.
	DeleteIfExpired(ctx context.Context, ip string, now time.Time) (int64, error)
	// Touch sets LastViolationAt on an existing entry and leaves every other field
	// alone. It reports false when no entry exists.
	Touch(ctx context.Context, ip string, at time.Time) (bool, error)
	List(ctx context.Context) ([]*models.IPBlacklistEntry, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// IPBlacklistGuard manages manual bans and bans triggered by aggregate failure volume
type IPBlacklistGuard struct {
	store    BlacklistStore
	attempts AttemptStore
	config   SecurityConfig
	clock    clock.Clock
	logger   *slog.Logger
}

// NewIPBlacklistGuard creates a new IPBlacklistGuard
func NewIPBlacklistGuard(store BlacklistStore, attempts AttemptStore, config SecurityConfig, clk clock.Clock, logger *slog.Logger) *IPBlacklistGuard {
	return &IPBlacklistGuard{
		store:    store,
		attempts: attempts,
		config:   config,
		clock:    clk,
		logger:   logger,
	}
}

// Active returns the live ban for ip, or nil. Expired entries count as absent and are
// deleted opportunistically.
func (g *IPBlacklistGuard) Active(ctx context.Context, ip string) (*models.IPBlacklistEntry, error) {
	entry, err := g.store.Get(ctx, ip)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load blacklist entry: %w", err)
	}

	now := g.clock.Now()
	if entry.IsExpired(now) {
		if _, err := g.store.DeleteIfExpired(ctx, ip, now); err != nil {
			g.logger.WarnContext(ctx, "failed to delete expired blacklist entry",
				slog.String("ip_address", ip),
				slog.Any("error", err))
		}
		return nil, nil
	}
	return entry, nil
}

// Blacklist creates or replaces a manual ban. A duration of zero makes the ban permanent.
func (g *IPBlacklistGuard) Blacklist(ctx context.Context, ip, reason string, d time.Duration, adminID string) (*models.IPBlacklistEntry, error) {
	now := g.clock.Now()
	entry := &models.IPBlacklistEntry{
		ID:              uuid.NewString(),
		IPAddress:       ip,
		Reason:          reason,
		BlacklistType:   models.BlacklistTypeManual,
		CreatedAt:       now,
		LastViolationAt: now,
	}
	if adminID != "" {
		entry.CreatedBy = &adminID
	}
	if d > 0 {
		expires := now.Add(d)
		entry.ExpiresAt = &expires
	}

	if err := g.store.Upsert(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to blacklist ip: %w", err)
	}
	return entry, nil
}

// Remove deletes every entry for ip. It reports false when none existed.
func (g *IPBlacklistGuard) Remove(ctx context.Context, ip string) (bool, error) {
	n, err := g.store.Delete(ctx, ip)
	if err != nil {
		return false, fmt.Errorf("failed to remove blacklist entry: %w", err)
	}
	return n > 0, nil
}

// List returns live bans.
func (g *IPBlacklistGuard) List(ctx context.Context) ([]*models.IPBlacklistEntry, error) {
	entries, err := g.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list blacklist entries: %w", err)
	}

	now := g.clock.Now()
	active := make([]*models.IPBlacklistEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsExpired(now) {
			active = append(active, e)
		}
	}
	return active, nil
}

// WindowFailures sums attempt counts for ip over the configured check window.
func (g *IPBlacklistGuard) WindowFailures(ctx context.Context, ip string) (int, error) {
	since := g.clock.Now().Add(-g.config.ipCheckWindow())
	recs, err := g.attempts.ListByClientIP(ctx, ip, since)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate attempts for ip: %w", err)
	}

	total := 0
	for _, r := range recs {
		total += r.AttemptCount
	}
	return total, nil
}

// Evaluate bans ip when its windowed failure volume reaches the threshold. created is
// true only when a new auto entry was written; a live ban just has its violation time
// refreshed. A ban removed between the lookup and the refresh is left removed.
func (g *IPBlacklistGuard) Evaluate(ctx context.Context, ip string) (entry *models.IPBlacklistEntry, created bool, err error) {
	if !g.config.IPAutoBlacklistEnabled {
		return nil, false, nil
	}

	total, err := g.WindowFailures(ctx, ip)
	if err != nil {
		return nil, false, err
	}
	if total < g.config.IPAutoBlacklistThreshold {
		return nil, false, nil
	}

	now := g.clock.Now()
	existing, err := g.Active(ctx, ip)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		touched, err := g.store.Touch(ctx, ip, now)
		if err != nil {
			return nil, false, fmt.Errorf("failed to refresh blacklist entry: %w", err)
		}
		if !touched {
			return nil, false, nil
		}
		existing.LastViolationAt = now
		return existing, false, nil
	}

	expires := now.Add(g.config.ipBanDuration())
	entry = &models.IPBlacklistEntry{
		ID:              uuid.NewString(),
		IPAddress:       ip,
		Reason:          fmt.Sprintf("auto: %d failed attempts within %dh", total, g.config.IPCheckWindowHours),
		BlacklistType:   models.BlacklistTypeAuto,
		CreatedAt:       now,
		ExpiresAt:       &expires,
		LastViolationAt: now,
	}
	if err := g.store.Upsert(ctx, entry); err != nil {
		return nil, false, fmt.Errorf("failed to auto-blacklist ip: %w", err)
	}

	g.logger.WarnContext(ctx, "ip auto-blacklisted",
		slog.String("ip_address", ip),
		slog.Int("failed_attempts", total),
		slog.Time("expires_at", expires))

	return entry, true, nil
}
