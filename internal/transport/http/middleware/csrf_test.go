package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mkalens/pipehub-identity/internal/infra/security"
)

func newCSRFRouter(t *testing.T, sessionToken string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signer, err := security.NewCSRFSigner(strings.Repeat("s", 32))
	if err != nil {
		t.Fatalf("build signer: %v", err)
	}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if sessionToken != "" {
			c.Set(SessionTokenKey, sessionToken)
		}
		c.Next()
	})
	router.Use(RequireCSRF(signer))
	router.POST("/mutate", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/read", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func deriveToken(t *testing.T, sessionToken string) string {
	t.Helper()
	signer, err := security.NewCSRFSigner(strings.Repeat("s", 32))
	if err != nil {
		t.Fatalf("build signer: %v", err)
	}
	return signer.Derive(sessionToken)
}

func TestRequireCSRFRejectsMissingToken(t *testing.T) {
	router := newCSRFRouter(t, "session-token")

	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "CSRF token required") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestRequireCSRFRejectsMismatchedToken(t *testing.T) {
	router := newCSRFRouter(t, "session-token")

	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.Header.Set(CSRFTokenHeader, deriveToken(t, "another-session"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Invalid CSRF token") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestRequireCSRFAcceptsHeaderToken(t *testing.T) {
	router := newCSRFRouter(t, "session-token")

	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.Header.Set(CSRFTokenHeader, deriveToken(t, "session-token"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireCSRFAcceptsQueryToken(t *testing.T) {
	router := newCSRFRouter(t, "session-token")

	req := httptest.NewRequest(http.MethodPost, "/mutate?csrf_token="+deriveToken(t, "session-token"), nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireCSRFSkipsSafeMethods(t *testing.T) {
	router := newCSRFRouter(t, "session-token")

	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for safe method, got %d", rr.Code)
	}
}

func TestRequireCSRFRequiresSession(t *testing.T) {
	router := newCSRFRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.Header.Set(CSRFTokenHeader, deriveToken(t, "session-token"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rr.Code)
	}
}
