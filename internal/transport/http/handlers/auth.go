package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/infra/config"
	"github.com/mkalens/pipehub-identity/internal/infra/security"
	"github.com/mkalens/pipehub-identity/internal/transport/http/middleware"
	"github.com/mkalens/pipehub-identity/internal/usecase"
)

// AuthHandler exposes login and logout endpoints.
type AuthHandler struct {
	auth     *usecase.AuthService
	sessions *usecase.SessionService
	signer   *security.CSRFSigner
	cookie   config.SessionSettings
}

// NewAuthHandler constructs an auth handler.
func NewAuthHandler(auth *usecase.AuthService, sessions *usecase.SessionService, signer *security.CSRFSigner, cookie config.SessionSettings) *AuthHandler {
	return &AuthHandler{auth: auth, sessions: sessions, signer: signer, cookie: cookie}
}

// RegisterPublicRoutes binds unauthenticated auth routes.
func (h *AuthHandler) RegisterPublicRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}
	r.POST("/login", h.Login)
}

// RegisterProtectedRoutes binds auth routes that require a live session.
func (h *AuthHandler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}
	r.POST("/logout", h.Logout)
	r.POST("/logout-all", h.LogoutAll)
}

// Login verifies credentials, opens a session, and sets the session cookie. The
// response carries the CSRF token the client must echo on mutating requests.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email and password are required"))
		return
	}

	ip, userAgent := clientMeta(c)
	session, token, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, ip, userAgent)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid email or password"},
			{Err: usecase.ErrNoTenantAccess, Status: http.StatusForbidden, Message: "account has no tenant access"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "login failed")
		return
	}

	csrfToken := h.signer.Derive(token)
	maxAge := int(h.cookie.Lifetime.Seconds())
	middleware.SetSessionCookie(c, h.cookie, token, maxAge)
	middleware.SetCSRFCookie(c, h.cookie, csrfToken, maxAge)

	c.JSON(http.StatusOK, LoginResponse{
		Session:   currentSessionPayload(*session),
		CSRFToken: csrfToken,
	})
}

// Logout revokes the current session and clears the cookie. Revocation is
// idempotent, so a replayed logout still returns 200.
func (h *AuthHandler) Logout(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "Unauthorized"))
		return
	}

	if err := h.sessions.Invalidate(c.Request.Context(), session.ID, "logout"); err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "logout failed")
		return
	}

	middleware.ClearSessionCookie(c, h.cookie)
	middleware.ClearCSRFCookie(c, h.cookie)
	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// LogoutAll revokes every live session of the authenticated user.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "Unauthorized"))
		return
	}

	revoked, err := h.sessions.InvalidateAll(c.Request.Context(), session.UserID, "logout_all")
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "logout failed")
		return
	}

	middleware.ClearSessionCookie(c, h.cookie)
	middleware.ClearCSRFCookie(c, h.cookie)
	c.JSON(http.StatusOK, SessionsRevokedResponse{Revoked: revoked})
}

func clientMeta(c *gin.Context) (ip, userAgent *string) {
	if v := c.ClientIP(); v != "" {
		ip = &v
	}
	if v := c.Request.UserAgent(); v != "" {
		userAgent = &v
	}
	return ip, userAgent
}

func currentSessionPayload(session domain.Session) SessionPayload {
	payload := newSessionPayload(session)
	payload.IsCurrent = true
	return payload
}
