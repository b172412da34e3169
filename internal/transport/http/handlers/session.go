package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkalens/pipehub-identity/internal/transport/http/middleware"
	"github.com/mkalens/pipehub-identity/internal/usecase"
)

// SessionHandler exposes endpoints for session inspection and placement switching.
type SessionHandler struct {
	auth     *usecase.AuthService
	sessions *usecase.SessionService
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(auth *usecase.AuthService, sessions *usecase.SessionService) *SessionHandler {
	return &SessionHandler{auth: auth, sessions: sessions}
}

// RegisterRoutes binds session routes to the provided router group.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("", h.ListSessions)
	r.POST("/switch", h.Switch)
	r.DELETE("/:session_id", h.RevokeSession)
}

// ListSessions returns the authenticated user's live sessions, marking the one
// that issued this request.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	current, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "Unauthorized"))
		return
	}

	sessions, err := h.sessions.ListUserSessions(c.Request.Context(), current.UserID)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	response := make([]SessionPayload, 0, len(sessions))
	for _, session := range sessions {
		payload := newSessionPayload(session)
		payload.IsCurrent = session.ID == current.ID
		response = append(response, payload)
	}

	c.JSON(http.StatusOK, SessionListResponse{Sessions: response, Total: len(response)})
}

// Switch moves the session to another held placement. An account/tenant pair
// the session does not hold yet is authorized against the directory first, so
// placements created mid-session are picked up here.
func (h *SessionHandler) Switch(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "Unauthorized"))
		return
	}

	var req SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "tenant_id is required"))
		return
	}

	result := session
	var err error
	if req.AccountID == "" {
		result, err = h.sessions.SwitchTenant(c.Request.Context(), session.ID, req.TenantID)
	} else {
		result, err = h.auth.AuthorizeSwitch(c.Request.Context(), session, req.AccountID, req.TenantID)
	}
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrBindingNotHeld, Status: http.StatusForbidden, Message: "placement not available to this session"},
			{Err: usecase.ErrSessionNotFound, Status: http.StatusUnauthorized, Message: "Unauthorized"},
			{Err: usecase.ErrUnauthenticated, Status: http.StatusUnauthorized, Message: "Unauthorized"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to switch placement")
		return
	}

	c.JSON(http.StatusOK, currentSessionPayload(*result))
}

// RevokeSession revokes one of the user's sessions by id. Only sessions owned
// by the caller can be revoked.
func (h *SessionHandler) RevokeSession(c *gin.Context) {
	current, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "Unauthorized"))
		return
	}

	targetID := c.Param("session_id")

	sessions, err := h.sessions.ListUserSessions(c.Request.Context(), current.UserID)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to revoke session")
		return
	}

	owned := false
	for _, session := range sessions {
		if session.ID == targetID {
			owned = true
			break
		}
	}
	if !owned {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "session not found"))
		return
	}

	if err := h.sessions.Invalidate(c.Request.Context(), targetID, "revoked_by_user"); err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to revoke session")
		return
	}

	c.Status(http.StatusNoContent)
}
