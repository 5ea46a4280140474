package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/clock"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/pkg/logger"
)

const (
	notifyTimeout = 5 * time.Second

	reasonIPBlacklisted = "ip address is blacklisted"
)

// Check decisions reported to metrics
const (
	DecisionAllowed     = "allowed"
	DecisionLocked      = "locked"
	DecisionDelayed     = "delayed"
	DecisionBlacklisted = "blacklisted"
	DecisionFailOpen    = "fail_open"
)

// SecurityNotifier receives lock and ban alerts
type SecurityNotifier interface {
	Notify(ctx context.Context, event models.SecurityEvent) error
}

// SecurityMetrics receives engine counters
type SecurityMetrics interface {
	ObserveDecision(decision string)
	IncFailedAttempts()
	IncLockout(level models.LockLevel)
	IncIPBan(blacklistType models.BlacklistType)
	IncStoreError(operation string)
	ObserveRiskScore(score int)
	AddSweepDeleted(kind string, n int64)
}

// SecurityAuditor persists administrator and engine actions
type SecurityAuditor interface {
	LogSecurityAction(ctx context.Context, entry *models.AuditLog)
}

// LoginSecurityDeps are the collaborators of LoginSecurityService. Attempts and
// Blacklist are required; the rest default to no-ops.
type LoginSecurityDeps struct {
	Attempts  AttemptStore
	Blacklist BlacklistStore
	Logs      LoginLogCleaner
	Notifier  SecurityNotifier
	Metrics   SecurityMetrics
	Audit     SecurityAuditor
	Clock     clock.Clock
	Logger    *slog.Logger

	// NotifyTimeout bounds each alert delivery. Zero uses a 5s default.
	NotifyTimeout time.Duration
}

// LoginSecurityService is the entry point for callers that authenticate users.
// The gate fails open: when a store errors, CheckLoginAttempt allows the attempt
// and reports the error to logs and metrics.
type LoginSecurityService struct {
	config   SecurityConfig
	tracker  *AttemptTracker
	guard    *IPBlacklistGuard
	scorer   *RiskScorer
	sweeper  *RetentionSweeper
	notifier SecurityNotifier
	metrics  SecurityMetrics
	audit    SecurityAuditor
	clock    clock.Clock
	logger   *slog.Logger

	notifyTimeout time.Duration
}

// NewLoginSecurityService validates config and wires the engine components.
func NewLoginSecurityService(config SecurityConfig, deps LoginSecurityDeps) (*LoginSecurityService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Attempts == nil || deps.Blacklist == nil {
		return nil, errors.New("attempt and blacklist stores are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Audit == nil {
		deps.Audit = nopAuditor{}
	}
	if deps.NotifyTimeout <= 0 {
		deps.NotifyTimeout = notifyTimeout
	}

	return &LoginSecurityService{
		config:   config,
		tracker:  NewAttemptTracker(deps.Attempts, config, deps.Clock, deps.Logger),
		guard:    NewIPBlacklistGuard(deps.Blacklist, deps.Attempts, config, deps.Clock, deps.Logger),
		scorer:   NewRiskScorer(deps.Attempts, config, deps.Clock, deps.Logger),
		sweeper:  NewRetentionSweeper(deps.Attempts, deps.Blacklist, deps.Logs, deps.Clock, deps.Logger),
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		audit:    deps.Audit,
		clock:    deps.Clock,
		logger:   deps.Logger,

		notifyTimeout: deps.NotifyTimeout,
	}, nil
}

// Config returns the thresholds the service was built with.
func (s *LoginSecurityService) Config() SecurityConfig {
	return s.config
}

// CheckLoginAttempt decides whether a login may proceed. An IP ban takes priority over
// the per-account state.
func (s *LoginSecurityService) CheckLoginAttempt(ctx context.Context, identifier, clientIP string) *models.LoginAttemptResult {
	if clientIP != "" {
		entry, err := s.guard.Active(ctx, clientIP)
		if err != nil {
			return s.failOpen(ctx, "check_blacklist", identifier, clientIP, err)
		}
		if entry != nil {
			s.metrics.ObserveDecision(DecisionBlacklisted)
			s.logger.WarnContext(ctx, "login blocked by ip blacklist",
				slog.String("identifier", logger.SanitizedIdentifier(identifier)),
				slog.String("client_ip", clientIP),
				slog.String("blacklist_type", string(entry.BlacklistType)))
			return &models.LoginAttemptResult{
				Allowed:   false,
				Reason:    reasonIPBlacklisted,
				LockUntil: entry.ExpiresAt,
				LockLevel: models.LockLevelIP,
			}
		}
	}

	result, err := s.tracker.Evaluate(ctx, identifier, clientIP)
	if err != nil {
		return s.failOpen(ctx, "check_attempts", identifier, clientIP, err)
	}

	switch {
	case result.Allowed:
		s.metrics.ObserveDecision(DecisionAllowed)
	case result.WaitSeconds > 0:
		s.metrics.ObserveDecision(DecisionDelayed)
	default:
		s.metrics.ObserveDecision(DecisionLocked)
	}
	return result
}

// RecordFailedAttempt counts a failed credential check and re-evaluates the source IP.
// It reports false when the failure could not be stored and never returns an error.
func (s *LoginSecurityService) RecordFailedAttempt(ctx context.Context, identifier, identifierType, clientIP, failureReason string) bool {
	if strings.TrimSpace(identifier) == "" || strings.TrimSpace(clientIP) == "" {
		s.logger.WarnContext(ctx, "failed attempt ignored: identifier and client ip are required")
		return false
	}

	rec, newlyLocked, err := s.tracker.RecordFailure(ctx, identifier, identifierType, clientIP, failureReason)
	if err != nil {
		s.metrics.IncStoreError("record_failure")
		s.logger.ErrorContext(ctx, "failed to record failed attempt",
			slog.String("identifier", logger.SanitizedIdentifier(identifier)),
			slog.String("client_ip", clientIP),
			slog.Any("error", err))
		return false
	}
	s.metrics.IncFailedAttempts()

	if newlyLocked {
		s.metrics.IncLockout(models.LockLevelAccount)
		s.audit.LogSecurityAction(ctx, &models.AuditLog{
			EventType:    models.AuditEventAccountLock,
			ResourceType: models.AuditResourceTypeAccount,
			ResourceID:   identifier,
			Action:       models.AuditActionCreate,
			Success:      true,
			IPAddress:    &clientIP,
			Metadata:     models.NewLockMetadata(s.config.LockDurationMinutes, models.LockReasonTooManyAttempts, rec.LockedUntil),
		})
		s.notify(ctx, models.SecurityEvent{
			Type:         models.SecurityEventAccountLocked,
			Identifier:   identifier,
			ClientIP:     clientIP,
			Reason:       models.LockReasonTooManyAttempts,
			AttemptCount: rec.AttemptCount,
			LockLevel:    models.LockLevelAccount,
			Until:        rec.LockedUntil,
			OccurredAt:   s.clock.Now(),
		})
	}

	entry, created, err := s.guard.Evaluate(ctx, clientIP)
	if err != nil {
		s.metrics.IncStoreError("auto_blacklist")
		s.logger.ErrorContext(ctx, "failed to evaluate ip for auto-blacklist",
			slog.String("client_ip", clientIP),
			slog.Any("error", err))
		return true
	}
	if created {
		s.metrics.IncIPBan(models.BlacklistTypeAuto)
		s.audit.LogSecurityAction(ctx, &models.AuditLog{
			EventType:    models.AuditEventIPAutoBan,
			ResourceType: models.AuditResourceTypeIP,
			ResourceID:   clientIP,
			Action:       models.AuditActionCreate,
			Success:      true,
			Metadata:     models.NewBlacklistMetadata(entry.BlacklistType, entry.Reason, entry.ExpiresAt),
		})
		s.notify(ctx, models.SecurityEvent{
			Type:          models.SecurityEventIPBlacklisted,
			ClientIP:      clientIP,
			Reason:        entry.Reason,
			LockLevel:     models.LockLevelIP,
			BlacklistType: entry.BlacklistType,
			Until:         entry.ExpiresAt,
			OccurredAt:    entry.CreatedAt,
		})
	}

	return true
}

// ClearFailedAttempts forgets failures after a successful login. An empty clientIP
// clears every pair for identifier.
func (s *LoginSecurityService) ClearFailedAttempts(ctx context.Context, identifier, clientIP string) bool {
	if strings.TrimSpace(identifier) == "" {
		return false
	}

	n, err := s.tracker.Clear(ctx, identifier, clientIP)
	if err != nil {
		s.metrics.IncStoreError("clear_attempts")
		s.logger.ErrorContext(ctx, "failed to clear failed attempts",
			slog.String("identifier", logger.SanitizedIdentifier(identifier)),
			slog.Any("error", err))
		return false
	}

	s.logger.DebugContext(ctx, "failed attempts cleared",
		slog.String("identifier", logger.SanitizedIdentifier(identifier)),
		slog.Int64("records", n))
	return true
}

// AssessLoginRisk returns the 0-100 risk score for a login.
func (s *LoginSecurityService) AssessLoginRisk(ctx context.Context, identifier, clientIP, userAgent string) int {
	return s.AssessLoginRiskDetailed(ctx, identifier, clientIP, userAgent).Score
}

// AssessLoginRiskDetailed returns the score with its components. Scorer failures degrade
// to DefaultRiskScore.
func (s *LoginSecurityService) AssessLoginRiskDetailed(ctx context.Context, identifier, clientIP, userAgent string) *models.RiskAssessment {
	assessment, err := s.scorer.Assess(ctx, identifier, clientIP, userAgent)
	if err != nil {
		s.metrics.IncStoreError("assess_risk")
		s.logger.ErrorContext(ctx, "risk assessment degraded",
			slog.String("identifier", logger.SanitizedIdentifier(identifier)),
			slog.Any("error", err))
		assessment = s.scorer.Fallback(identifier, clientIP)
	}

	s.metrics.ObserveRiskScore(assessment.Score)
	if assessment.HighRisk {
		s.logger.WarnContext(ctx, "high risk login",
			slog.String("identifier", logger.SanitizedIdentifier(identifier)),
			slog.String("client_ip", clientIP),
			slog.Int("score", assessment.Score))
	}
	return assessment
}

// LockAccount locks identifier on every client IP. minutes <= 0 uses the configured
// lock duration.
func (s *LoginSecurityService) LockAccount(ctx context.Context, identifier string, minutes int, reason, adminID string) (*models.AttemptRecord, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, models.NewValidationError("identifier", "is required")
	}
	if minutes <= 0 {
		minutes = s.config.LockDurationMinutes
	}
	if strings.TrimSpace(reason) == "" {
		reason = models.LockReasonAdministrator
	}

	rec, err := s.tracker.Lock(ctx, identifier, time.Duration(minutes)*time.Minute, reason)
	if err != nil {
		s.metrics.IncStoreError("lock_account")
		s.auditFailure(ctx, models.AuditEventAccountLock, models.AuditResourceTypeAccount, identifier, models.AuditActionCreate, adminID, err)
		return nil, err
	}

	s.metrics.IncLockout(models.LockLevelAccount)
	s.audit.LogSecurityAction(ctx, &models.AuditLog{
		EventType:    models.AuditEventAccountLock,
		ActorID:      optional(adminID),
		ResourceType: models.AuditResourceTypeAccount,
		ResourceID:   identifier,
		Action:       models.AuditActionCreate,
		Success:      true,
		Metadata:     models.NewLockMetadata(minutes, reason, rec.LockedUntil),
	})
	s.notify(ctx, models.SecurityEvent{
		Type:       models.SecurityEventAccountLocked,
		Identifier: identifier,
		Reason:     reason,
		LockLevel:  models.LockLevelAccount,
		Until:      rec.LockedUntil,
		ActorID:    adminID,
		OccurredAt: s.clock.Now(),
	})
	return rec, nil
}

// UnlockAccount clears every pair for identifier. It reports false when nothing matched.
func (s *LoginSecurityService) UnlockAccount(ctx context.Context, identifier, adminID string) (bool, error) {
	if strings.TrimSpace(identifier) == "" {
		return false, models.NewValidationError("identifier", "is required")
	}

	ok, err := s.tracker.Unlock(ctx, identifier)
	if err != nil {
		s.metrics.IncStoreError("unlock_account")
		s.auditFailure(ctx, models.AuditEventAccountUnlock, models.AuditResourceTypeAccount, identifier, models.AuditActionUpdate, adminID, err)
		return false, err
	}
	if !ok {
		return false, nil
	}

	s.audit.LogSecurityAction(ctx, &models.AuditLog{
		EventType:    models.AuditEventAccountUnlock,
		ActorID:      optional(adminID),
		ResourceType: models.AuditResourceTypeAccount,
		ResourceID:   identifier,
		Action:       models.AuditActionUpdate,
		Success:      true,
	})
	return true, nil
}

// GetLockedAccounts lists records locked right now.
func (s *LoginSecurityService) GetLockedAccounts(ctx context.Context) ([]*models.AttemptRecord, error) {
	recs, err := s.tracker.Locked(ctx)
	if err != nil {
		s.metrics.IncStoreError("list_locked")
		return nil, err
	}
	return recs, nil
}

// BlacklistIP bans ip manually. minutes == 0 makes the ban permanent.
func (s *LoginSecurityService) BlacklistIP(ctx context.Context, ip, reason string, minutes int, adminID string) (*models.IPBlacklistEntry, error) {
	if err := validateIP(ip); err != nil {
		return nil, err
	}
	if minutes < 0 {
		return nil, models.NewValidationError("minutes", "must not be negative")
	}
	if strings.TrimSpace(reason) == "" {
		reason = "blacklisted by administrator"
	}

	entry, err := s.guard.Blacklist(ctx, ip, reason, time.Duration(minutes)*time.Minute, adminID)
	if err != nil {
		s.metrics.IncStoreError("blacklist_ip")
		s.auditFailure(ctx, models.AuditEventIPBlacklist, models.AuditResourceTypeIP, ip, models.AuditActionCreate, adminID, err)
		return nil, err
	}

	s.metrics.IncIPBan(models.BlacklistTypeManual)
	s.audit.LogSecurityAction(ctx, &models.AuditLog{
		EventType:    models.AuditEventIPBlacklist,
		ActorID:      optional(adminID),
		ResourceType: models.AuditResourceTypeIP,
		ResourceID:   ip,
		Action:       models.AuditActionCreate,
		Success:      true,
		Metadata:     models.NewBlacklistMetadata(entry.BlacklistType, reason, entry.ExpiresAt),
	})
	s.notify(ctx, models.SecurityEvent{
		Type:          models.SecurityEventIPBlacklisted,
		ClientIP:      ip,
		Reason:        reason,
		LockLevel:     models.LockLevelIP,
		BlacklistType: entry.BlacklistType,
		Until:         entry.ExpiresAt,
		ActorID:       adminID,
		OccurredAt:    entry.CreatedAt,
	})
	return entry, nil
}

// RemoveIPFromBlacklist lifts every ban on ip. It reports false when none existed.
func (s *LoginSecurityService) RemoveIPFromBlacklist(ctx context.Context, ip, adminID string) (bool, error) {
	if strings.TrimSpace(ip) == "" {
		return false, models.NewValidationError("ip_address", "is required")
	}

	ok, err := s.guard.Remove(ctx, ip)
	if err != nil {
		s.metrics.IncStoreError("unblacklist_ip")
		s.auditFailure(ctx, models.AuditEventIPUnblacklist, models.AuditResourceTypeIP, ip, models.AuditActionDelete, adminID, err)
		return false, err
	}
	if !ok {
		return false, nil
	}

	s.audit.LogSecurityAction(ctx, &models.AuditLog{
		EventType:    models.AuditEventIPUnblacklist,
		ActorID:      optional(adminID),
		ResourceType: models.AuditResourceTypeIP,
		ResourceID:   ip,
		Action:       models.AuditActionDelete,
		Success:      true,
	})
	return true, nil
}

// IsIPBlacklisted reports whether ip has a live ban.
func (s *LoginSecurityService) IsIPBlacklisted(ctx context.Context, ip string) (bool, error) {
	entry, err := s.GetBlacklistEntry(ctx, ip)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// GetBlacklistEntry returns the live ban for ip or ErrNotFound.
func (s *LoginSecurityService) GetBlacklistEntry(ctx context.Context, ip string) (*models.IPBlacklistEntry, error) {
	if strings.TrimSpace(ip) == "" {
		return nil, models.NewValidationError("ip_address", "is required")
	}

	entry, err := s.guard.Active(ctx, ip)
	if err != nil {
		s.metrics.IncStoreError("check_blacklist")
		return nil, err
	}
	if entry == nil {
		return nil, models.ErrNotFound
	}
	return entry, nil
}

// ListBlacklistedIPs returns live bans.
func (s *LoginSecurityService) ListBlacklistedIPs(ctx context.Context) ([]*models.IPBlacklistEntry, error) {
	entries, err := s.guard.List(ctx)
	if err != nil {
		s.metrics.IncStoreError("list_blacklist")
		return nil, err
	}
	return entries, nil
}

// CleanExpiredAttempts deletes stale unlocked attempt records.
func (s *LoginSecurityService) CleanExpiredAttempts(ctx context.Context, hoursToKeep int) (int64, error) {
	n, err := s.sweeper.CleanExpiredAttempts(ctx, hoursToKeep)
	if err != nil {
		if !errors.Is(err, models.ErrValidation) {
			s.metrics.IncStoreError("clean_attempts")
		}
		return 0, err
	}
	s.metrics.AddSweepDeleted("attempts", n)
	return n, nil
}

// CleanExpiredLogs deletes old audit rows and lapsed IP bans.
func (s *LoginSecurityService) CleanExpiredLogs(ctx context.Context, daysToKeep int) (SweepResult, error) {
	res, err := s.sweeper.CleanExpiredLogs(ctx, daysToKeep)
	if err != nil {
		if !errors.Is(err, models.ErrValidation) {
			s.metrics.IncStoreError("clean_logs")
		}
		return res, err
	}
	s.metrics.AddSweepDeleted("audit_logs", res.Logs)
	s.metrics.AddSweepDeleted("blacklist", res.Blacklist)
	return res, nil
}

func (s *LoginSecurityService) failOpen(ctx context.Context, operation, identifier, clientIP string, err error) *models.LoginAttemptResult {
	s.metrics.IncStoreError(operation)
	s.metrics.ObserveDecision(DecisionFailOpen)
	s.logger.ErrorContext(ctx, "login check failed open",
		slog.String("operation", operation),
		slog.String("identifier", logger.SanitizedIdentifier(identifier)),
		slog.String("client_ip", clientIP),
		slog.Any("error", fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)))

	return &models.LoginAttemptResult{
		Allowed:           true,
		RemainingAttempts: s.config.MaxAttemptsPerAccount,
		LockLevel:         models.LockLevelNone,
	}
}

func (s *LoginSecurityService) notify(ctx context.Context, event models.SecurityEvent) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(nctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to deliver security alert",
			slog.String("type", string(event.Type)),
			slog.Any("error", err))
	}
}

func (s *LoginSecurityService) auditFailure(ctx context.Context, eventType, resourceType, resourceID, action, adminID string, err error) {
	reason := err.Error()
	s.audit.LogSecurityAction(ctx, &models.AuditLog{
		EventType:     eventType,
		ActorID:       optional(adminID),
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Action:        action,
		Success:       false,
		FailureReason: &reason,
	})
}

func validateIP(ip string) error {
	if strings.TrimSpace(ip) == "" {
		return models.NewValidationError("ip_address", "is required")
	}
	if err := configValidator.Var(ip, "ip"); err != nil {
		return models.NewValidationError("ip_address", "must be a valid IPv4 or IPv6 address")
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.SecurityEvent) error { return nil }

type nopAuditor struct{}

func (nopAuditor) LogSecurityAction(context.Context, *models.AuditLog) {}

type nopMetrics struct{}

func (nopMetrics) ObserveDecision(string)        {}
func (nopMetrics) IncFailedAttempts()            {}
func (nopMetrics) IncLockout(models.LockLevel)   {}
func (nopMetrics) IncIPBan(models.BlacklistType) {}
func (nopMetrics) IncStoreError(string)          {}
func (nopMetrics) ObserveRiskScore(int)          {}
func (nopMetrics) AddSweepDeleted(string, int64) {}
