package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// AdminSecurityService is the administrative half of the login security engine
type AdminSecurityService interface {
	LockAccount(ctx context.Context, identifier string, minutes int, reason, adminID string) (*models.AttemptRecord, error)
	UnlockAccount(ctx context.Context, identifier, adminID string) (bool, error)
	GetLockedAccounts(ctx context.Context) ([]*models.AttemptRecord, error)
	BlacklistIP(ctx context.Context, ip, reason string, minutes int, adminID string) (*models.IPBlacklistEntry, error)
	RemoveIPFromBlacklist(ctx context.Context, ip, adminID string) (bool, error)
	GetBlacklistEntry(ctx context.Context, ip string) (*models.IPBlacklistEntry, error)
	ListBlacklistedIPs(ctx context.Context) ([]*models.IPBlacklistEntry, error)
	CleanExpiredAttempts(ctx context.Context, hoursToKeep int) (int64, error)
	CleanExpiredLogs(ctx context.Context, daysToKeep int) (services.SweepResult, error)
}

// AuditTrail reads and appends the admin audit log
type AuditTrail interface {
	LogSecurityAction(ctx context.Context, entry *models.AuditLog)
	ListRecent(ctx context.Context, eventType string, limit int) ([]*models.AuditLog, error)
}

// AdminSecurityHandler handles admin lock, blacklist, maintenance and audit requests
type AdminSecurityHandler struct {
	service AdminSecurityService
	audit   AuditTrail
}

// NewAdminSecurityHandler creates a new AdminSecurityHandler
func NewAdminSecurityHandler(service AdminSecurityService, audit AuditTrail) *AdminSecurityHandler {
	return &AdminSecurityHandler{service: service, audit: audit}
}

// Request DTOs

// LockAccountRequest locks an identifier on every client IP
type LockAccountRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	Minutes    int    `json:"minutes" validate:"gte=0,lte=525600"`
	Reason     string `json:"reason" validate:"max=255"`
}

// UnlockAccountRequest clears all attempt records for an identifier
type UnlockAccountRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
}

// BlacklistIPRequest bans an IP. minutes == 0 is permanent.
type BlacklistIPRequest struct {
	IPAddress string `json:"ip_address" validate:"required,ip"`
	Reason    string `json:"reason" validate:"max=255"`
	Minutes   int    `json:"minutes" validate:"gte=0"`
}

// CleanAttemptsRequest sweeps unlocked attempt records older than the window
type CleanAttemptsRequest struct {
	HoursToKeep int `json:"hours_to_keep" validate:"required,gte=1"`
}

// CleanLogsRequest sweeps audit rows older than the window
type CleanLogsRequest struct {
	DaysToKeep int `json:"days_to_keep" validate:"required,gte=1"`
}

// Response DTOs

// LockedAccountsResponse lists currently locked records
type LockedAccountsResponse struct {
	Accounts []*models.AttemptRecord `json:"accounts"`
	Total    int                     `json:"total"`
}

// BlacklistResponse lists live IP bans
type BlacklistResponse struct {
	Entries []*models.IPBlacklistEntry `json:"entries"`
	Total   int                        `json:"total"`
}

// AuditLogsResponse lists recent audit rows
type AuditLogsResponse struct {
	Logs  []*models.AuditLog `json:"logs"`
	Total int                `json:"total"`
	Limit int                `json:"limit"`
}

// Handlers

// LockAccount handles POST /v1/admin/accounts/lock
func (h *AdminSecurityHandler) LockAccount(w http.ResponseWriter, r *http.Request) {
	var req LockAccountRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rec, err := h.service.LockAccount(r.Context(), req.Identifier, req.Minutes, req.Reason, auth.ActorID(r))
	if err != nil {
		writeServiceError(w, err, "failed to lock account")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, rec)
}

// UnlockAccount handles POST /v1/admin/accounts/unlock
func (h *AdminSecurityHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	var req UnlockAccountRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ok, err := h.service.UnlockAccount(r.Context(), req.Identifier, auth.ActorID(r))
	if err != nil {
		writeServiceError(w, err, "failed to unlock account")
		return
	}
	if !ok {
		pkghttp.WriteNotFound(w, "no attempt records for identifier")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"unlocked": true})
}

// ListLockedAccounts handles GET /v1/admin/accounts/locked
func (h *AdminSecurityHandler) ListLockedAccounts(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.GetLockedAccounts(r.Context())
	if err != nil {
		writeServiceError(w, err, "failed to list locked accounts")
		return
	}
	if recs == nil {
		recs = []*models.AttemptRecord{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, LockedAccountsResponse{Accounts: recs, Total: len(recs)})
}

// BlacklistIP handles POST /v1/admin/ip-blacklist
func (h *AdminSecurityHandler) BlacklistIP(w http.ResponseWriter, r *http.Request) {
	var req BlacklistIPRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	entry, err := h.service.BlacklistIP(r.Context(), req.IPAddress, req.Reason, req.Minutes, auth.ActorID(r))
	if err != nil {
		writeServiceError(w, err, "failed to blacklist IP")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, entry)
}

// RemoveFromBlacklist handles DELETE /v1/admin/ip-blacklist/{ip}
func (h *AdminSecurityHandler) RemoveFromBlacklist(w http.ResponseWriter, r *http.Request) {
	ip := ipParam(r)

	ok, err := h.service.RemoveIPFromBlacklist(r.Context(), ip, auth.ActorID(r))
	if err != nil {
		writeServiceError(w, err, "failed to remove IP from blacklist")
		return
	}
	if !ok {
		pkghttp.WriteNotFound(w, "IP is not blacklisted")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

// GetBlacklistEntry handles GET /v1/admin/ip-blacklist/{ip}
func (h *AdminSecurityHandler) GetBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.GetBlacklistEntry(r.Context(), ipParam(r))
	if err != nil {
		writeServiceError(w, err, "failed to read blacklist entry")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, entry)
}

// ListBlacklist handles GET /v1/admin/ip-blacklist
func (h *AdminSecurityHandler) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListBlacklistedIPs(r.Context())
	if err != nil {
		writeServiceError(w, err, "failed to list blacklist")
		return
	}
	if entries == nil {
		entries = []*models.IPBlacklistEntry{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, BlacklistResponse{Entries: entries, Total: len(entries)})
}

// CleanAttempts handles POST /v1/admin/maintenance/clean-attempts
func (h *AdminSecurityHandler) CleanAttempts(w http.ResponseWriter, r *http.Request) {
	var req CleanAttemptsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	n, err := h.service.CleanExpiredAttempts(r.Context(), req.HoursToKeep)
	h.logMaintenance(r, "clean_attempts", map[string]interface{}{
		"hours_to_keep": req.HoursToKeep,
		"deleted":       n,
	}, err)
	if err != nil {
		writeServiceError(w, err, "failed to clean attempts")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// CleanLogs handles POST /v1/admin/maintenance/clean-logs
func (h *AdminSecurityHandler) CleanLogs(w http.ResponseWriter, r *http.Request) {
	var req CleanLogsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.service.CleanExpiredLogs(r.Context(), req.DaysToKeep)
	h.logMaintenance(r, "clean_logs", map[string]interface{}{
		"days_to_keep":      req.DaysToKeep,
		"logs_deleted":      res.Logs,
		"blacklist_deleted": res.Blacklist,
	}, err)
	if err != nil {
		writeServiceError(w, err, "failed to clean logs")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, res)
}

// ListAudit handles GET /v1/admin/audit?event_type=&limit=
// limit outside 1..100 falls back to 50.
func (h *AdminSecurityHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("event_type")
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	logs, err := h.audit.ListRecent(r.Context(), eventType, limit)
	if err != nil {
		writeServiceError(w, err, "failed to retrieve audit logs")
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, AuditLogsResponse{Logs: logs, Total: len(logs), Limit: limit})
}

func (h *AdminSecurityHandler) logMaintenance(r *http.Request, task string, metadata map[string]interface{}, err error) {
	entry := &models.AuditLog{
		EventType:    models.AuditEventMaintenance,
		ResourceType: models.AuditResourceTypeStore,
		ResourceID:   task,
		Action:       models.AuditActionDelete,
		Success:      err == nil,
		Metadata:     models.AuditMetadata(metadata),
	}
	if actor := auth.ActorID(r); actor != "" {
		entry.ActorID = &actor
	}
	if err != nil {
		reason := err.Error()
		entry.FailureReason = &reason
	}
	h.audit.LogSecurityAction(r.Context(), entry)
}

func ipParam(r *http.Request) string {
	ip := chi.URLParam(r, "ip")
	if unescaped, err := url.PathUnescape(ip); err == nil {
		return unescaped
	}
	return ip
}
