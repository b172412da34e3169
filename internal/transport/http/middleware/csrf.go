package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mkalens/pipehub-identity/internal/infra/config"
	"github.com/mkalens/pipehub-identity/internal/infra/security"
)

// CSRFTokenHeader carries the per-session CSRF token on mutating requests.
const CSRFTokenHeader = "X-CSRF-Token"

// csrfTokenQuery is the fallback for clients that cannot set custom headers.
const csrfTokenQuery = "csrf_token"

// RequireCSRF checks the CSRF token on state-changing methods. The token is
// derived from the session token, so RequireSession must run first.
func RequireCSRF(signer *security.CSRFSigner) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		sessionToken, ok := GetSessionToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "Unauthorized"))
			return
		}

		csrfToken := c.GetHeader(CSRFTokenHeader)
		if csrfToken == "" {
			csrfToken = c.Query(csrfTokenQuery)
		}
		if csrfToken == "" {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "CSRF token required"))
			return
		}

		if !signer.Validate(csrfToken, sessionToken) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "Invalid CSRF token"))
			return
		}

		c.Next()
	}
}

// SetCSRFCookie writes the CSRF token cookie next to the session cookie. It is
// deliberately not HttpOnly: the client reads it and echoes the value in the
// X-CSRF-Token header, which a cross-site request cannot do.
func SetCSRFCookie(c *gin.Context, cookie config.SessionSettings, token string, maxAge int) {
	if cookie.CSRFCookieName == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookie.CSRFCookieName, token, maxAge, "/", cookie.CookieDomain, cookie.CookieSecure, false)
}

// ClearCSRFCookie expires the CSRF cookie on the client.
func ClearCSRFCookie(c *gin.Context, cookie config.SessionSettings) {
	if cookie.CSRFCookieName == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookie.CSRFCookieName, "", -1, "/", cookie.CookieDomain, cookie.CookieSecure, false)
}
