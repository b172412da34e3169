package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkalens/pipehub-identity/internal/infra/config"
	"github.com/mkalens/pipehub-identity/internal/usecase"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireSession resolves the session cookie into a live session record. A
// missing, revoked, or expired session yields 401 and clears the stale cookie
// so clients stop replaying it.
func RequireSession(sessions *usecase.SessionService, cookie config.SessionSettings) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookie.CookieName)
		if err != nil || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "Unauthorized"))
			return
		}

		var ip, userAgent *string
		if v := c.ClientIP(); v != "" {
			ip = &v
		}
		if v := c.Request.UserAgent(); v != "" {
			userAgent = &v
		}

		session, err := sessions.Validate(c.Request.Context(), token, ip, userAgent)
		if err != nil {
			ClearSessionCookie(c, cookie)
			ClearCSRFCookie(c, cookie)
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "Unauthorized"))
			return
		}

		c.Set(SessionKey, session)
		c.Set(SessionTokenKey, token)
		c.Set(UserIDKey, session.UserID)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = session.UserID
		}

		c.Next()
	}
}

// SetSessionCookie writes the session cookie with the configured attributes.
func SetSessionCookie(c *gin.Context, cookie config.SessionSettings, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookie.CookieName, token, maxAge, "/", cookie.CookieDomain, cookie.CookieSecure, true)
}

// ClearSessionCookie expires the session cookie on the client.
func ClearSessionCookie(c *gin.Context, cookie config.SessionSettings) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookie.CookieName, "", -1, "/", cookie.CookieDomain, cookie.CookieSecure, true)
}
