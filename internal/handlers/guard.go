package handlers

import (
	"context"
	"net/http"

	"github.com/BradenHooton/loginguard/internal/models"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// GuardService is the caller-facing half of the login security engine
type GuardService interface {
	CheckLoginAttempt(ctx context.Context, identifier, clientIP string) *models.LoginAttemptResult
	RecordFailedAttempt(ctx context.Context, identifier, identifierType, clientIP, failureReason string) bool
	ClearFailedAttempts(ctx context.Context, identifier, clientIP string) bool
	AssessLoginRiskDetailed(ctx context.Context, identifier, clientIP, userAgent string) *models.RiskAssessment
}

// GuardHandler serves the pre-login gate used by authentication services
type GuardHandler struct {
	service GuardService
}

// NewGuardHandler creates a new GuardHandler
func NewGuardHandler(service GuardService) *GuardHandler {
	return &GuardHandler{service: service}
}

// CheckRequest asks whether a login may proceed
type CheckRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	ClientIP   string `json:"client_ip" validate:"required,ip"`
}

// RecordFailureRequest reports a failed credential check
type RecordFailureRequest struct {
	Identifier     string `json:"identifier" validate:"required,max=255"`
	IdentifierType string `json:"identifier_type" validate:"omitempty,oneof=email phone username third_party"`
	ClientIP       string `json:"client_ip" validate:"required,ip"`
	Reason         string `json:"reason" validate:"max=255"`
}

// ClearRequest reports a successful login. An empty client_ip clears every pair for the identifier.
type ClearRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	ClientIP   string `json:"client_ip" validate:"omitempty,ip"`
}

// RiskRequest asks for a risk assessment of a login
type RiskRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	ClientIP   string `json:"client_ip" validate:"required,ip"`
	UserAgent  string `json:"user_agent" validate:"max=1024"`
}

// Check handles POST /v1/guard/check. The decision is in the body; the status is always 200.
func (h *GuardHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result := h.service.CheckLoginAttempt(r.Context(), req.Identifier, req.ClientIP)
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// RecordFailure handles POST /v1/guard/failures
func (h *GuardHandler) RecordFailure(w http.ResponseWriter, r *http.Request) {
	var req RecordFailureRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	recorded := h.service.RecordFailedAttempt(r.Context(), req.Identifier, req.IdentifierType, req.ClientIP, req.Reason)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"recorded": recorded})
}

// Clear handles POST /v1/guard/clear
func (h *GuardHandler) Clear(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	cleared := h.service.ClearFailedAttempts(r.Context(), req.Identifier, req.ClientIP)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

// AssessRisk handles POST /v1/guard/risk
func (h *GuardHandler) AssessRisk(w http.ResponseWriter, r *http.Request) {
	var req RiskRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	assessment := h.service.AssessLoginRiskDetailed(r.Context(), req.Identifier, req.ClientIP, req.UserAgent)
	pkghttp.WriteJSON(w, http.StatusOK, assessment)
}
