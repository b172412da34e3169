package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// BlockedResponse surfaces blocker messages for an aborted destructive operation.
type BlockedResponse struct {
	Error    string   `json:"error"`
	Blockers []string `json:"blockers"`
	TraceID  string   `json:"trace_id,omitempty"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest defines the sign-up payload.
type RegisterRequest struct {
	Email         string `json:"email" binding:"required,email"`
	Password      string `json:"password" binding:"required,min=8"`
	WorkspaceName string `json:"workspace_name"`
}

// BindingPayload is one account/workspace placement held by a session.
type BindingPayload struct {
	AccountID string `json:"account_id"`
	TenantID  string `json:"tenant_id"`
	RoleID    string `json:"role_id"`
}

// SessionPayload provides a client-facing view of a session record. The record
// id is a hash of the client token, so exposing it reveals nothing usable.
type SessionPayload struct {
	ID           string           `json:"id"`
	AccountID    string           `json:"account_id"`
	TenantID     string           `json:"tenant_id"`
	RoleID       string           `json:"role_id"`
	Bindings     []BindingPayload `json:"bindings"`
	CreatedAt    time.Time        `json:"created_at"`
	LastActivity time.Time        `json:"last_activity"`
	ExpiresAt    time.Time        `json:"expires_at"`
	IPAddress    *string          `json:"ip_address,omitempty"`
	UserAgent    *string          `json:"user_agent,omitempty"`
	IsCurrent    bool             `json:"is_current,omitempty"`
}

func newSessionPayload(session domain.Session) SessionPayload {
	bindings := make([]BindingPayload, 0, len(session.Bindings))
	for _, b := range session.Bindings {
		bindings = append(bindings, BindingPayload{
			AccountID: b.AccountID,
			TenantID:  b.TenantID,
			RoleID:    b.RoleID,
		})
	}

	return SessionPayload{
		ID:           session.ID,
		AccountID:    session.CurrentAccountID,
		TenantID:     session.CurrentTenantID,
		RoleID:       session.CurrentRoleID,
		Bindings:     bindings,
		CreatedAt:    session.CreatedAt,
		LastActivity: session.LastActivity,
		ExpiresAt:    session.ExpiresAt,
		IPAddress:    session.IPAddress,
		UserAgent:    session.UserAgent,
	}
}

// LoginResponse carries the opened session plus the CSRF token derived from it.
// The session token itself travels only in the cookie.
type LoginResponse struct {
	Session   SessionPayload `json:"session"`
	CSRFToken string         `json:"csrf_token"`
}

// RegisterResponse reports the identity created by sign-up; the caller is
// logged in immediately.
type RegisterResponse struct {
	UserID    string         `json:"user_id"`
	AccountID string         `json:"account_id"`
	TenantID  string         `json:"tenant_id"`
	Session   SessionPayload `json:"session"`
	CSRFToken string         `json:"csrf_token"`
}

// SessionListResponse wraps the authenticated user's live sessions.
type SessionListResponse struct {
	Sessions []SessionPayload `json:"sessions"`
	Total    int              `json:"total"`
}

// SessionsRevokedResponse reports how many sessions a bulk revocation touched.
type SessionsRevokedResponse struct {
	Revoked int `json:"revoked"`
}

// SwitchRequest names the placement the session should move to. AccountID may
// be empty for a tenant-only switch within the current account.
type SwitchRequest struct {
	AccountID string `json:"account_id"`
	TenantID  string `json:"tenant_id" binding:"required"`
}

// LinkAccountRequest proves ownership of a second credential set.
type LinkAccountRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LinkAccountResponse reports the merge outcome.
type LinkAccountResponse struct {
	CanonicalUserID string          `json:"canonical_user_id"`
	MergedUserID    string          `json:"merged_user_id,omitempty"`
	AccountsMoved   int             `json:"accounts_moved"`
	Session         *SessionPayload `json:"session,omitempty"`
}

// BlockerPayload is one computed deletion blocker.
type BlockerPayload struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	TenantID      string `json:"tenant_id,omitempty"`
	Informational bool   `json:"informational"`
}

// BlockersResponse previews what prevents a destructive operation. CanProceed
// is false while any hard blocker remains.
type BlockersResponse struct {
	Blockers   []BlockerPayload `json:"blockers"`
	CanProceed bool             `json:"can_proceed"`
}

func newBlockersResponse(blockers []domain.Blocker) BlockersResponse {
	payload := make([]BlockerPayload, 0, len(blockers))
	for _, b := range blockers {
		payload = append(payload, BlockerPayload{
			Code:          string(b.Code),
			Message:       b.Message,
			TenantID:      b.TenantID,
			Informational: b.Informational,
		})
	}
	return BlockersResponse{
		Blockers:   payload,
		CanProceed: len(domain.HardBlockers(blockers)) == 0,
	}
}
