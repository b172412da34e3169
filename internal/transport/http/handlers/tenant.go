package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkalens/pipehub-identity/internal/transport/http/middleware"
	"github.com/mkalens/pipehub-identity/internal/usecase"
)

// TenantHandler exposes workspace deletion and membership endpoints.
type TenantHandler struct {
	deletion *usecase.DeletionService
}

// NewTenantHandler constructs a tenant handler.
func NewTenantHandler(deletion *usecase.DeletionService) *TenantHandler {
	return &TenantHandler{deletion: deletion}
}

// RegisterRoutes binds tenant routes to the provided router group.
func (h *TenantHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("/:tenant_id/blockers", h.TenantBlockers)
	r.DELETE("/:tenant_id", h.DeleteTenant)
	r.DELETE("/:tenant_id/members/:account_id", h.RemoveMember)
}

// TenantBlockers previews what prevents deleting the workspace. An informational
// has_members blocker does not stop the deletion; personal workspaces are
// blocked unconditionally.
func (h *TenantHandler) TenantBlockers(c *gin.Context) {
	blockers, err := h.deletion.PreviewTenantBlockers(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrTenantNotFound, Status: http.StatusNotFound, Message: "workspace not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to compute blockers")
		return
	}

	c.JSON(http.StatusOK, newBlockersResponse(blockers))
}

// DeleteTenant soft-deletes the workspace with all its bindings, roles, and
// group memberships, then repairs every affected member's sessions.
func (h *TenantHandler) DeleteTenant(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "Unauthorized"))
		return
	}

	if err := h.deletion.DeleteTenantEntirely(c.Request.Context(), session.UserID, c.Param("tenant_id")); err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrTenantNotFound, Status: http.StatusNotFound, Message: "workspace not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to delete workspace")
		return
	}

	c.Status(http.StatusNoContent)
}

// RemoveMember removes one account's membership from the workspace. Leaving a
// workspace as its last owner is denied; removal repairs the member's sessions.
func (h *TenantHandler) RemoveMember(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "Unauthorized"))
		return
	}

	err := h.deletion.RemoveAccountFromTenant(c.Request.Context(), session.UserID, c.Param("account_id"), c.Param("tenant_id"))
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrTenantNotFound, Status: http.StatusNotFound, Message: "workspace not found"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to remove member")
		return
	}

	c.Status(http.StatusNoContent)
}
