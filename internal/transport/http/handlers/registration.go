package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mkalens/pipehub-identity/internal/infra/config"
	"github.com/mkalens/pipehub-identity/internal/infra/logger"
	"github.com/mkalens/pipehub-identity/internal/infra/security"
	"github.com/mkalens/pipehub-identity/internal/transport/http/middleware"
	"github.com/mkalens/pipehub-identity/internal/usecase"
)

// RegistrationHandler exposes the sign-up endpoint.
type RegistrationHandler struct {
	registration *usecase.RegistrationService
	auth         *usecase.AuthService
	signer       *security.CSRFSigner
	cookie       config.SessionSettings
	logger       *zap.Logger
}

// NewRegistrationHandler constructs a registration handler.
func NewRegistrationHandler(registration *usecase.RegistrationService, auth *usecase.AuthService, signer *security.CSRFSigner, cookie config.SessionSettings, log *zap.Logger) *RegistrationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RegistrationHandler{
		registration: registration,
		auth:         auth,
		signer:       signer,
		cookie:       cookie,
		logger:       log,
	}
}

// RegisterRoutes binds registration routes to the provided router group.
func (h *RegistrationHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}
	r.POST("/register", h.Register)
}

// Register creates the identity, credential account, personal workspace, owner
// role, and binding in one transaction, then logs the caller in.
func (h *RegistrationHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email and a password of at least 8 characters are required"))
		return
	}

	result, err := h.registration.Register(c.Request.Context(), req.Email, req.Password, req.WorkspaceName)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrEmailTaken, Status: http.StatusConflict, Message: "email already registered"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "registration failed")
		return
	}

	response := RegisterResponse{
		UserID:    result.UserID,
		AccountID: result.AccountID,
		TenantID:  result.TenantID,
	}

	// The identity is committed at this point; a failed auto-login downgrades
	// the response rather than erroring.
	ip, userAgent := clientMeta(c)
	session, token, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, ip, userAgent)
	if err != nil {
		h.logger.Warn("auto-login after registration failed",
			zap.String("email", logger.MaskEmail(req.Email)),
			zap.Error(err))
		c.JSON(http.StatusCreated, response)
		return
	}

	csrfToken := h.signer.Derive(token)
	maxAge := int(h.cookie.Lifetime.Seconds())
	middleware.SetSessionCookie(c, h.cookie, token, maxAge)
	middleware.SetCSRFCookie(c, h.cookie, csrfToken, maxAge)
	response.Session = currentSessionPayload(*session)
	response.CSRFToken = csrfToken

	c.JSON(http.StatusCreated, response)
}
