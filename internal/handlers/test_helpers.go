package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithPrincipal adds principal claims to request context for testing authenticated endpoints
func WithPrincipal(req *http.Request, userID, role string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Role:   role,
		Type:   auth.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockGuardService implements GuardService for testing
type MockGuardService struct {
	CheckLoginAttemptFunc       func(ctx context.Context, identifier, clientIP string) *models.LoginAttemptResult
	RecordFailedAttemptFunc     func(ctx context.Context, identifier, identifierType, clientIP, failureReason string) bool
	ClearFailedAttemptsFunc     func(ctx context.Context, identifier, clientIP string) bool
	AssessLoginRiskDetailedFunc func(ctx context.Context, identifier, clientIP, userAgent string) *models.RiskAssessment
}

func (m *MockGuardService) CheckLoginAttempt(ctx context.Context, identifier, clientIP string) *models.LoginAttemptResult {
	if m.CheckLoginAttemptFunc == nil {
		return &models.LoginAttemptResult{Allowed: true, LockLevel: models.LockLevelNone}
	}
	return m.CheckLoginAttemptFunc(ctx, identifier, clientIP)
}

func (m *MockGuardService) RecordFailedAttempt(ctx context.Context, identifier, identifierType, clientIP, failureReason string) bool {
	if m.RecordFailedAttemptFunc == nil {
		return true
	}
	return m.RecordFailedAttemptFunc(ctx, identifier, identifierType, clientIP, failureReason)
}

func (m *MockGuardService) ClearFailedAttempts(ctx context.Context, identifier, clientIP string) bool {
	if m.ClearFailedAttemptsFunc == nil {
		return true
	}
	return m.ClearFailedAttemptsFunc(ctx, identifier, clientIP)
}

func (m *MockGuardService) AssessLoginRiskDetailed(ctx context.Context, identifier, clientIP, userAgent string) *models.RiskAssessment {
	if m.AssessLoginRiskDetailedFunc == nil {
		return &models.RiskAssessment{ClientIP: clientIP, Level: models.RiskLevelLow}
	}
	return m.AssessLoginRiskDetailedFunc(ctx, identifier, clientIP, userAgent)
}

// MockAdminSecurityService implements AdminSecurityService for testing
type MockAdminSecurityService struct {
	LockAccountFunc           func(ctx context.Context, identifier string, minutes int, reason, adminID string) (*models.AttemptRecord, error)
	UnlockAccountFunc         func(ctx context.Context, identifier, adminID string) (bool, error)
	GetLockedAccountsFunc     func(ctx context.Context) ([]*models.AttemptRecord, error)
	BlacklistIPFunc           func(ctx context.Context, ip, reason string, minutes int, adminID string) (*models.IPBlacklistEntry, error)
	RemoveIPFromBlacklistFunc func(ctx context.Context, ip, adminID string) (bool, error)
	GetBlacklistEntryFunc     func(ctx context.Context, ip string) (*models.IPBlacklistEntry, error)
	ListBlacklistedIPsFunc    func(ctx context.Context) ([]*models.IPBlacklistEntry, error)
	CleanExpiredAttemptsFunc  func(ctx context.Context, hoursToKeep int) (int64, error)
	CleanExpiredLogsFunc      func(ctx context.Context, daysToKeep int) (services.SweepResult, error)
}

func (m *MockAdminSecurityService) LockAccount(ctx context.Context, identifier string, minutes int, reason, adminID string) (*models.AttemptRecord, error) {
	if m.LockAccountFunc == nil {
		return &models.AttemptRecord{Identifier: identifier, ClientIP: models.ManualLockClientIP}, nil
	}
	return m.LockAccountFunc(ctx, identifier, minutes, reason, adminID)
}

func (m *MockAdminSecurityService) UnlockAccount(ctx context.Context, identifier, adminID string) (bool, error) {
	if m.UnlockAccountFunc == nil {
		return false, nil
	}
	return m.UnlockAccountFunc(ctx, identifier, adminID)
}

func (m *MockAdminSecurityService) GetLockedAccounts(ctx context.Context) ([]*models.AttemptRecord, error) {
	if m.GetLockedAccountsFunc == nil {
		return nil, nil
	}
	return m.GetLockedAccountsFunc(ctx)
}

func (m *MockAdminSecurityService) BlacklistIP(ctx context.Context, ip, reason string, minutes int, adminID string) (*models.IPBlacklistEntry, error) {
	if m.BlacklistIPFunc == nil {
		return &models.IPBlacklistEntry{IPAddress: ip, Reason: reason, BlacklistType: models.BlacklistTypeManual}, nil
	}
	return m.BlacklistIPFunc(ctx, ip, reason, minutes, adminID)
}

func (m *MockAdminSecurityService) RemoveIPFromBlacklist(ctx context.Context, ip, adminID string) (bool, error) {
	if m.RemoveIPFromBlacklistFunc == nil {
		return false, nil
	}
	return m.RemoveIPFromBlacklistFunc(ctx, ip, adminID)
}

func (m *MockAdminSecurityService) GetBlacklistEntry(ctx context.Context, ip string) (*models.IPBlacklistEntry, error) {
	if m.GetBlacklistEntryFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetBlacklistEntryFunc(ctx, ip)
}

func (m *MockAdminSecurityService) ListBlacklistedIPs(ctx context.Context) ([]*models.IPBlacklistEntry, error) {
	if m.ListBlacklistedIPsFunc == nil {
		return nil, nil
	}
	return m.ListBlacklistedIPsFunc(ctx)
}

func (m *MockAdminSecurityService) CleanExpiredAttempts(ctx context.Context, hoursToKeep int) (int64, error) {
	if m.CleanExpiredAttemptsFunc == nil {
		return 0, nil
	}
	return m.CleanExpiredAttemptsFunc(ctx, hoursToKeep)
}

func (m *MockAdminSecurityService) CleanExpiredLogs(ctx context.Context, daysToKeep int) (services.SweepResult, error) {
	if m.CleanExpiredLogsFunc == nil {
		return services.SweepResult{}, nil
	}
	return m.CleanExpiredLogsFunc(ctx, daysToKeep)
}

// MockAuditTrail implements AuditTrail for testing and records logged entries
type MockAuditTrail struct {
	Entries        []*models.AuditLog
	ListRecentFunc func(ctx context.Context, eventType string, limit int) ([]*models.AuditLog, error)
}

func (m *MockAuditTrail) LogSecurityAction(_ context.Context, entry *models.AuditLog) {
	m.Entries = append(m.Entries, entry)
}

func (m *MockAuditTrail) ListRecent(ctx context.Context, eventType string, limit int) ([]*models.AuditLog, error) {
	if m.ListRecentFunc == nil {
		return nil, nil
	}
	return m.ListRecentFunc(ctx, eventType, limit)
}
