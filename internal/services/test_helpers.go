package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/loginguard/internal/clock"
	"github.com/BradenHooton/loginguard/internal/models"
)

var errStoreDown = models.ErrStoreUnavailable

// MockAttemptStore implements AttemptStore for testing. Unset funcs return zero values.
type MockAttemptStore struct {
	GetFunc               func(ctx context.Context, identifier, clientIP string) (*models.AttemptRecord, error)
	UpsertFunc            func(ctx context.Context, identifier, clientIP string, fn func(*models.AttemptRecord) error) (*models.AttemptRecord, error)
	ListByIdentifierFunc  func(ctx context.Context, identifier string) ([]*models.AttemptRecord, error)
	ListByClientIPFunc    func(ctx context.Context, clientIP string, since time.Time) ([]*models.AttemptRecord, error)
	ListLockedFunc        func(ctx context.Context, now time.Time) ([]*models.AttemptRecord, error)
	ResetByIdentifierFunc func(ctx context.Context, identifier string) (int64, error)
	DeleteFunc            func(ctx context.Context, identifier, clientIP string) (int64, error)
	DeleteStaleFunc       func(ctx context.Context, olderThan, now time.Time) (int64, error)
}

func (m *MockAttemptStore) Get(ctx context.Context, identifier, clientIP string) (*models.AttemptRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, identifier, clientIP)
	}
	return nil, models.ErrNotFound
}

func (m *MockAttemptStore) Upsert(ctx context.Context, identifier, clientIP string, fn func(*models.AttemptRecord) error) (*models.AttemptRecord, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, identifier, clientIP, fn)
	}
	rec := &models.AttemptRecord{Identifier: identifier, ClientIP: clientIP, LockLevel: models.LockLevelNone}
	if err := fn(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *MockAttemptStore) ListByIdentifier(ctx context.Context, identifier string) ([]*models.AttemptRecord, error) {
	if m.ListByIdentifierFunc != nil {
		return m.ListByIdentifierFunc(ctx, identifier)
	}
	return nil, nil
}

func (m *MockAttemptStore) ListByClientIP(ctx context.Context, clientIP string, since time.Time) ([]*models.AttemptRecord, error) {
	if m.ListByClientIPFunc != nil {
		return m.ListByClientIPFunc(ctx, clientIP, since)
	}
	return nil, nil
}

func (m *MockAttemptStore) ListLocked(ctx context.Context, now time.Time) ([]*models.AttemptRecord, error) {
	if m.ListLockedFunc != nil {
		return m.ListLockedFunc(ctx, now)
	}
	return nil, nil
}

func (m *MockAttemptStore) ResetByIdentifier(ctx context.Context, identifier string) (int64, error) {
	if m.ResetByIdentifierFunc != nil {
		return m.ResetByIdentifierFunc(ctx, identifier)
	}
	return 0, nil
}

func (m *MockAttemptStore) Delete(ctx context.Context, identifier, clientIP string) (int64, error) {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, identifier, clientIP)
	}
	return 0, nil
}

func (m *MockAttemptStore) DeleteStale(ctx context.Context, olderThan, now time.Time) (int64, error) {
	if m.DeleteStaleFunc != nil {
		return m.DeleteStaleFunc(ctx, olderThan, now)
	}
	return 0, nil
}

// MockBlacklistStore implements BlacklistStore for testing
type MockBlacklistStore struct {
	GetFunc             func(ctx context.Context, ip string) (*models.IPBlacklistEntry, error)
	UpsertFunc          func(ctx context.Context, entry *models.IPBlacklistEntry) error
	DeleteFunc          func(ctx context.Context, ip string) (int64, error)
	DeleteIfExpiredFunc func(ctx context.Context, ip string, now time.Time) (int64, error)
	TouchFunc           func(ctx context.Context, ip string, at time.Time) (bool, error)
	ListFunc            func(ctx context.Context) ([]*models.IPBlacklistEntry, error)
	DeleteExpiredFunc   func(ctx context.Context, now time.Time) (int64, error)
}

func (m *MockBlacklistStore) Get(ctx context.Context, ip string) (*models.IPBlacklistEntry, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, ip)
	}
	return nil, models.ErrNotFound
}

func (m *MockBlacklistStore) Upsert(ctx context.Context, entry *models.IPBlacklistEntry) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, entry)
	}
	return nil
}

func (m *MockBlacklistStore) Delete(ctx context.Context, ip string) (int64, error) {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, ip)
	}
	return 0, nil
}

func (m *MockBlacklistStore) DeleteIfExpired(ctx context.Context, ip string, now time.Time) (int64, error) {
	if m.DeleteIfExpiredFunc != nil {
		return m.DeleteIfExpiredFunc(ctx, ip, now)
	}
	return 0, nil
}

func (m *MockBlacklistStore) Touch(ctx context.Context, ip string, at time.Time) (bool, error) {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, ip, at)
	}
	return false, nil
}

func (m *MockBlacklistStore) List(ctx context.Context) ([]*models.IPBlacklistEntry, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

func (m *MockBlacklistStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx, now)
	}
	return 0, nil
}

// MockAuditLogStore implements AuditLogStore for testing
type MockAuditLogStore struct {
	CreateFunc         func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	ListRecentFunc     func(ctx context.Context, limit int) ([]*models.AuditLog, error)
	GetByEventTypeFunc func(ctx context.Context, eventType string, limit int) ([]*models.AuditLog, error)
}

func (m *MockAuditLogStore) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	return log, nil
}

func (m *MockAuditLogStore) ListRecent(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	if m.ListRecentFunc != nil {
		return m.ListRecentFunc(ctx, limit)
	}
	return nil, nil
}

func (m *MockAuditLogStore) GetByEventType(ctx context.Context, eventType string, limit int) ([]*models.AuditLog, error) {
	if m.GetByEventTypeFunc != nil {
		return m.GetByEventTypeFunc(ctx, eventType, limit)
	}
	return nil, nil
}

// recordingNotifier captures published events
type recordingNotifier struct {
	mu     sync.Mutex
	events []models.SecurityEvent
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, event models.SecurityEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) Events() []models.SecurityEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.SecurityEvent(nil), n.events...)
}

// recordingAuditor captures audit rows
type recordingAuditor struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (a *recordingAuditor) LogSecurityAction(_ context.Context, entry *models.AuditLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *recordingAuditor) EventTypes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.EventType)
	}
	return out
}

// countingMetrics tallies calls by name
type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counts: make(map[string]int)}
}

func (m *countingMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

func (m *countingMetrics) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *countingMetrics) ObserveDecision(decision string)       { m.inc("decision:" + decision) }
func (m *countingMetrics) IncFailedAttempts()                    { m.inc("failed_attempts") }
func (m *countingMetrics) IncLockout(level models.LockLevel)     { m.inc("lockout:" + string(level)) }
func (m *countingMetrics) IncIPBan(t models.BlacklistType)       { m.inc("ip_ban:" + string(t)) }
func (m *countingMetrics) IncStoreError(operation string)        { m.inc("store_error:" + operation) }
func (m *countingMetrics) ObserveRiskScore(int)                  { m.inc("risk_score") }
func (m *countingMetrics) AddSweepDeleted(kind string, n int64) { m.inc("sweep:" + kind) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testStart is a weekday afternoon so the off-hours risk signal stays quiet.
var testStart = time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)

func testConfig() SecurityConfig {
	cfg := DefaultSecurityConfig()
	cfg.RiskLocation = time.UTC
	return cfg
}

func newMockClock() *clock.Mock {
	return clock.NewMock(testStart)
}
