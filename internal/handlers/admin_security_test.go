package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/loginguard/internal/handlers"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
)

func newAdminRouter(svc *handlers.MockAdminSecurityService, audit *handlers.MockAuditTrail) http.Handler {
	h := handlers.NewAdminSecurityHandler(svc, audit)
	r := chi.NewRouter()
	r.Get("/v1/admin/ip-blacklist/{ip}", h.GetBlacklistEntry)
	r.Delete("/v1/admin/ip-blacklist/{ip}", h.RemoveFromBlacklist)
	return r
}

func TestLockAccount_PassesActor(t *testing.T) {
	until := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	var gotAdmin string
	var gotMinutes int
	svc := &handlers.MockAdminSecurityService{
		LockAccountFunc: func(_ context.Context, identifier string, minutes int, reason, adminID string) (*models.AttemptRecord, error) {
			gotAdmin, gotMinutes = adminID, minutes
			rec := &models.AttemptRecord{Identifier: identifier, ClientIP: models.ManualLockClientIP}
			rec.Lock(until, reason)
			return rec, nil
		},
	}
	h := handlers.NewAdminSecurityHandler(svc, &handlers.MockAuditTrail{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/v1/admin/accounts/lock", handlers.LockAccountRequest{
		Identifier: "alice",
		Minutes:    60,
		Reason:     "suspected takeover",
	})
	req = handlers.WithPrincipal(req, "admin-7", models.RoleAdmin)
	w := httptest.NewRecorder()
	h.LockAccount(w, req)

	var rec models.AttemptRecord
	handlers.AssertJSONResponse(t, w, http.StatusOK, &rec)
	assert.Equal(t, "admin-7", gotAdmin)
	assert.Equal(t, 60, gotMinutes)
	assert.Equal(t, models.LockLevelAccount, rec.LockLevel)
	require.NotNil(t, rec.LockReason)
	assert.Equal(t, "suspected takeover", *rec.LockReason)
}

func TestLockAccount_RejectsNegativeMinutes(t *testing.T) {
	h := handlers.NewAdminSecurityHandler(&handlers.MockAdminSecurityService{}, &handlers.MockAuditTrail{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/v1/admin/accounts/lock", handlers.LockAccountRequest{
		Identifier: "alice",
		Minutes:    -5,
	})
	w := httptest.NewRecorder()
	h.LockAccount(w, req)

	resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	assert.Contains(t, resp.Details, "minutes")
}

func TestLockAccount_StoreUnavailable(t *testing.T) {
	svc := &handlers.MockAdminSecurityService{
		LockAccountFunc: func(context.Context, string, int, string, string) (*models.AttemptRecord, error) {
			return nil, fmt.Errorf("upsert: %w", models.ErrStoreUnavailable)
		},
	}
	h := handlers.NewAdminSecurityHandler(svc, &handlers.MockAuditTrail{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/v1/admin/accounts/lock", handlers.LockAccountRequest{Identifier: "alice"})
	w := httptest.NewRecorder()
	h.LockAccount(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusServiceUnavailable, "service_unavailable")
}

func TestUnlockAccount(t *testing.T) {
	tests := []struct {
		name       string
		ok         bool
		err        error
		wantStatus int
	}{
		{"unlocked", true, nil, http.StatusOK},
		{"nothing to unlock", false, nil, http.StatusNotFound},
		{"unexpected failure", false, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &handlers.MockAdminSecurityService{
				UnlockAccountFunc: func(context.Context, string, string) (bool, error) { return tt.ok, tt.err },
			}
			h := handlers.NewAdminSecurityHandler(svc, &handlers.MockAuditTrail{})

			req := handlers.NewTestRequest(t, http.MethodPost, "/v1/admin/accounts/unlock", handlers.UnlockAccountRequest{Identifier: "alice"})
			w := httptest.NewRecorder()
			h.UnlockAccount(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestListLockedAccounts_EmptyIsArray(t *testing.T) {
	h := handlers.NewAdminSecurityHandler(&handlers.MockAdminSecurityService{}, &handlers.MockAuditTrail{})

	w := httptest.NewRecorder()
	h.ListLockedAccounts(w, httptest.NewRequest(http.MethodGet, "/v1/admin/accounts/locked", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accounts":[],"total":0}`, w.Body.String())
}

func TestBlacklistIP_Created(t *testing.T) {
	var gotMinutes int
	svc := &handlers.MockAdminSecurityService{
		BlacklistIPFunc: func(_ context.Context, ip, reason string, minutes int, adminID string) (*models.IPBlacklistEntry, error) {
			gotMinutes = minutes
			return &models.IPBlacklistEntry{
				ID:            "3f1c",
				IPAddress:     ip,
				Reason:        reason,
				BlacklistType: models.BlacklistTypeManual,
				CreatedBy:     &adminID,
			}, nil
		},
	}
	h := handlers.NewAdminSecurityHandler(svc, &handlers.MockAuditTrail{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/v1/admin/ip-blacklist", handlers.BlacklistIPRequest{
		IPAddress: "198.51.100.9",
		Reason:    "credential stuffing",
	})
	req = handlers.WithPrincipal(req, "admin-7", models.RoleAdmin)
	w := httptest.NewRecorder()
	h.BlacklistIP(w, req)

	var entry models.IPBlacklistEntry
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &entry)
	assert.Equal(t, "198.51.100.9", entry.IPAddress)
	assert.True(t, entry.IsPermanent())
	assert.Equal(t, 0, gotMinutes)
}

func TestBlacklistIP_InvalidIP(t *testing.T) {
	h := handlers.NewAdminSecurityHandler(&handlers.MockAdminSecurityService{}, &handlers.MockAuditTrail{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/v1/admin/ip-blacklist", handlers.BlacklistIPRequest{IPAddress: "300.1.1.1"})
	w := httptest.NewRecorder()
	h.BlacklistIP(w, req)

	resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	assert.Equal(t, "ip_address: must be a valid IP address", resp.Details)
}

func TestGetBlacklistEntry(t *testing.T) {
	svc := &handlers.MockAdminSecurityService{
		GetBlacklistEntryFunc: func(_ context.Context, ip string) (*models.IPBlacklistEntry, error) {
			if ip == "2001:db8::1" {
				return &models.IPBlacklistEntry{IPAddress: ip, BlacklistType: models.BlacklistTypeAuto}, nil
			}
			return nil, models.ErrNotFound
		},
	}
	router := newAdminRouter(svc, &handlers.MockAuditTrail{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/ip-blacklist/2001:db8::1", nil))
	var entry models.IPBlacklistEntry
	handlers.AssertJSONResponse(t, w, http.StatusOK, &entry)
	assert.Equal(t, models.BlacklistTypeAuto, entry.BlacklistType)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/ip-blacklist/203.0.113.7", nil))
	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

func TestRemoveFromBlacklist(t *testing.T) {
	var gotIP, gotAdmin string
	svc := &handlers.MockAdminSecurityService{
		RemoveIPFromBlacklistFunc: func(_ context.Context, ip, adminID string) (bool, error) {
			gotIP, gotAdmin = ip, adminID
			return ip == "198.51.100.9", nil
		},
	}
	h := handlers.NewAdminSecurityHandler(svc, &handlers.MockAuditTrail{})
	router := chi.NewRouter()
	router.Delete("/v1/admin/ip-blacklist/{ip}", func(w http.ResponseWriter, r *http.Request) {
		h.RemoveFromBlacklist(w, handlers.WithPrincipal(r, "admin-7", models.RoleAdmin))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/admin/ip-blacklist/198.51.100.9", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "198.51.100.9", gotIP)
	assert.Equal(t, "admin-7", gotAdmin)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/admin/ip-blacklist/203.0.113.7", nil))
	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

func TestListBlacklist(t *testing.T) {
	svc := &handlers.MockAdminSecurityService{
		ListBlacklistedIPsFunc: func(context.Context) ([]*models.IPBlacklistEntry, error) {
			return []*models.IPBlacklistEntry{
				{IPAddress: "198.51.100.9", BlacklistType: models.BlacklistTypeManual},
				{IPAddress: "203.0.113.7", BlacklistType: models.BlacklistTypeAuto},
			}, nil
		},
	}
	h := handlers.NewAdminSecurityHandler(svc, &handlers.MockAuditTrail{})

	w := httptest.NewRecorder()
	h.ListBlacklist(w, httptest.NewRequest(http.MethodGet, "/v1/admin/ip-blacklist", nil))

	var resp handlers.BlacklistResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Entries, 2)
}

func TestCleanAttempts_AuditsMaintenance(t *testing.T) {
	audit := &handlers.MockAuditTrail{}
	svc := &handlers.MockAdminSecurityService{
		CleanExpiredAttemptsFunc: func(_ context.Context, hours int) (int64, error) {
			assert.Equal(t, 48, hours)
			return 12, nil
		},
	}
	h := handlers.NewAdminSecurityHandler(svc, audit)

	req := handlers.NewTestRequest(t, http.MethodPost, "/v1/admin/maintenance/clean-attempts", handlers.CleanAttemptsRequest{HoursToKeep: 48})
	req = handlers.WithPrincipal(req, "admin-7", models.RoleAdmin)
	w := httptest.NewRecorder()
	h.CleanAttempts(w, req)

	var resp map[string]int64
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, int64(12), resp["deleted"])

	require.Len(t, audit.Entries, 1)
	entry := audit.Entries[0]
	assert.Equal(t, models.AuditEventMaintenance, entry.EventType)
	assert.Equal(t, "clean_attempts", entry.ResourceID)
	assert.True(t, entry.Success)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "admin-7", *entry.ActorID)
}

func TestCleanAttempts_RequiresPositiveWindow(t *testing.T) {
	audit := &handlers.MockAuditTrail{}
	h := handlers.NewAdminSecurityHandler(&handlers.MockAdminSecurityService{}, audit)

	req := handlers.NewTestRequest(t, http.MethodPost, "/v1/admin/maintenance/clean-attempts", map[string]int{"hours_to_keep": 0})
	w := httptest.NewRecorder()
	h.CleanAttempts(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	assert.Empty(t, audit.Entries)
}

func TestCleanLogs_FailureIsAudited(t *testing.T) {
	audit := &handlers.MockAuditTrail{}
	svc := &handlers.MockAdminSecurityService{
		CleanExpiredLogsFunc: func(context.Context, int) (services.SweepResult, error) {
			return services.SweepResult{}, fmt.Errorf("delete: %w", models.ErrStoreUnavailable)
		},
	}
	h := handlers.NewAdminSecurityHandler(svc, audit)

	req := handlers.NewTestRequest(t, http.MethodPost, "/v1/admin/maintenance/clean-logs", handlers.CleanLogsRequest{DaysToKeep: 30})
	w := httptest.NewRecorder()
	h.CleanLogs(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusServiceUnavailable, "service_unavailable")
	require.Len(t, audit.Entries, 1)
	assert.False(t, audit.Entries[0].Success)
	require.NotNil(t, audit.Entries[0].FailureReason)
}

func TestCleanLogs_ReturnsSweepResult(t *testing.T) {
	svc := &handlers.MockAdminSecurityService{
		CleanExpiredLogsFunc: func(context.Context, int) (services.SweepResult, error) {
			return services.SweepResult{Logs: 40, Blacklist: 2}, nil
		},
	}
	h := handlers.NewAdminSecurityHandler(svc, &handlers.MockAuditTrail{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/v1/admin/maintenance/clean-logs", handlers.CleanLogsRequest{DaysToKeep: 30})
	w := httptest.NewRecorder()
	h.CleanLogs(w, req)

	var resp services.SweepResult
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, int64(40), resp.Logs)
	assert.Equal(t, int64(2), resp.Blacklist)
}

func TestListAudit_LimitHandling(t *testing.T) {
	tests := []struct {
		query     string
		wantLimit int
		wantType  string
	}{
		{"", 50, ""},
		{"?limit=10", 10, ""},
		{"?limit=500", 50, ""},
		{"?limit=abc&event_type=account_lock", 50, "account_lock"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var gotLimit int
			var gotType string
			audit := &handlers.MockAuditTrail{
				ListRecentFunc: func(_ context.Context, eventType string, limit int) ([]*models.AuditLog, error) {
					gotLimit, gotType = limit, eventType
					return []*models.AuditLog{{EventType: models.AuditEventAccountLock}}, nil
				},
			}
			h := handlers.NewAdminSecurityHandler(&handlers.MockAdminSecurityService{}, audit)

			w := httptest.NewRecorder()
			h.ListAudit(w, httptest.NewRequest(http.MethodGet, "/v1/admin/audit"+tt.query, nil))

			var resp handlers.AuditLogsResponse
			handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
			assert.Equal(t, tt.wantLimit, gotLimit)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, 1, resp.Total)
		})
	}
}
