package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mkalens/pipehub-identity/internal/infra/config"
	"github.com/mkalens/pipehub-identity/internal/transport/http/middleware"
	"github.com/mkalens/pipehub-identity/internal/usecase"
)

// AccountHandler exposes account linking and deletion endpoints.
type AccountHandler struct {
	auth     *usecase.AuthService
	merge    *usecase.MergeService
	deletion *usecase.DeletionService
	cookie   config.SessionSettings
}

// NewAccountHandler constructs an account handler.
func NewAccountHandler(auth *usecase.AuthService, merge *usecase.MergeService, deletion *usecase.DeletionService, cookie config.SessionSettings) *AccountHandler {
	return &AccountHandler{auth: auth, merge: merge, deletion: deletion, cookie: cookie}
}

// RegisterRoutes binds account routes to the provided router group.
func (h *AccountHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.POST("/link", h.LinkAccount)
	r.GET("/:account_id/blockers", h.AccountBlockers)
	r.DELETE("/:account_id", h.DeleteAccount)
}

// RegisterUserRoutes binds whole-identity routes to the provided router group.
func (h *AccountHandler) RegisterUserRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("/blockers", h.UserBlockers)
	r.DELETE("", h.DeleteUser)
}

// LinkAccount merges the identity owning the proven credential set into the
// caller's identity. The earlier-created identity always wins as canonical; the
// initiating session is re-pointed at the linked account's placement.
func (h *AccountHandler) LinkAccount(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "Unauthorized"))
		return
	}

	var req LinkAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email and password are required"))
		return
	}

	account, err := h.auth.VerifyCredentials(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid email or password"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to verify account")
		return
	}

	result, err := h.merge.Link(c.Request.Context(), account.ID, session.UserID, session.ID)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
			{Err: usecase.ErrNoTenantAccess, Status: http.StatusConflict, Message: "account has no tenant access"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to link account")
		return
	}

	response := LinkAccountResponse{
		CanonicalUserID: result.CanonicalUserID,
		MergedUserID:    result.MergedUserID,
		AccountsMoved:   result.AccountsMoved,
	}

	// Re-read the initiating session so the response reflects the post-merge
	// placement; a read failure here is cosmetic.
	if refreshed, err := h.auth.AuthorizeSwitch(c.Request.Context(), session, result.Primary.AccountID, result.Primary.TenantID); err == nil {
		payload := currentSessionPayload(*refreshed)
		response.Session = &payload
	}

	c.JSON(http.StatusOK, response)
}

// AccountBlockers previews what prevents deleting the account.
func (h *AccountHandler) AccountBlockers(c *gin.Context) {
	wholeIdentity := false
	if raw := c.Query("whole_identity"); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			wholeIdentity = parsed
		}
	}

	blockers, err := h.deletion.PreviewAccountBlockers(c.Request.Context(), c.Param("account_id"), wholeIdentity)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to compute blockers")
		return
	}

	c.JSON(http.StatusOK, newBlockersResponse(blockers))
}

// DeleteAccount soft-deletes one of the caller's accounts with its bindings,
// orphaned roles, and group memberships, then repairs affected sessions.
func (h *AccountHandler) DeleteAccount(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "Unauthorized"))
		return
	}

	accountID := c.Param("account_id")
	if !h.ownsAccount(c, session.UserID, accountID) {
		return
	}

	if err := h.deletion.DeleteAccountEntirely(c.Request.Context(), accountID); err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to delete account")
		return
	}

	c.Status(http.StatusNoContent)
}

// UserBlockers previews what prevents deleting the caller's whole identity.
func (h *AccountHandler) UserBlockers(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "Unauthorized"))
		return
	}

	blockers, err := h.deletion.PreviewUserBlockers(c.Request.Context(), session.UserID)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to compute blockers")
		return
	}

	c.JSON(http.StatusOK, newBlockersResponse(blockers))
}

// DeleteUser soft-deletes the caller's entire identity: accounts, personal and
// orphaned workspaces, bindings, roles, memberships. Every session is revoked.
func (h *AccountHandler) DeleteUser(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "Unauthorized"))
		return
	}

	if err := h.deletion.DeleteUserEntirely(c.Request.Context(), session.UserID); err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to delete identity")
		return
	}

	middleware.ClearSessionCookie(c, h.cookie)
	middleware.ClearCSRFCookie(c, h.cookie)
	c.Status(http.StatusNoContent)
}

// ownsAccount rejects requests targeting accounts outside the caller's
// identity. Responds and returns false on failure.
func (h *AccountHandler) ownsAccount(c *gin.Context, userID, accountID string) bool {
	accounts, err := h.auth.AccountsForUser(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to resolve account")
		return false
	}
	for _, account := range accounts {
		if account.ID == accountID {
			return true
		}
	}

	c.JSON(http.StatusNotFound, NewErrorResponse(c, "account not found"))
	return false
}
