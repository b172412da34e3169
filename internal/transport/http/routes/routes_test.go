package routes_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/mkalens/pipehub-identity/internal/infra/config"
	"github.com/mkalens/pipehub-identity/internal/infra/security"
	"github.com/mkalens/pipehub-identity/internal/repository/memory"
	redisrepo "github.com/mkalens/pipehub-identity/internal/repository/redis"
	"github.com/mkalens/pipehub-identity/internal/transport/http/middleware"
	httproutes "github.com/mkalens/pipehub-identity/internal/transport/http/routes"
	"github.com/mkalens/pipehub-identity/internal/usecase"
)

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := zap.NewDevelopment()
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}

	r := httproutes.Register(httproutes.Dependencies{
		Config: cfg,
		Logger: logger,
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := red.NewClient(&red.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zaptest.NewLogger(t)
	directory := memory.NewDirectory()
	store := redisrepo.NewSessionRepository(client, "sess:test")
	buckets := redisrepo.NewTokenBucketRepository(client, "bucket:test")

	sessions := usecase.NewSessionService(store, nil, logger)
	auth := usecase.NewAuthService(directory, sessions, logger)
	registration := usecase.NewRegistrationService(directory, nil, logger)
	merge := usecase.NewMergeService(directory, sessions, nil, logger)
	deletion := usecase.NewDeletionService(directory, sessions, nil, logger)

	signer, err := security.NewCSRFSigner(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("build signer: %v", err)
	}

	cfg := &config.AppConfig{
		App: config.AppSettings{Env: "test"},
		Session: config.SessionSettings{
			Lifetime:       30 * 24 * time.Hour,
			RenewalWindow:  15 * 24 * time.Hour,
			AuditRetention: 24 * time.Hour,
			CookieName:     "pipehub_session",
			CSRFCookieName: "pipehub_csrf",
		},
		RateLimit: config.RateLimitSettings{
			Auth:    config.BucketSettings{MaxTokens: 100, RefillInterval: time.Second},
			Objects: config.BucketSettings{MaxTokens: 100, RefillInterval: time.Second, FailOpen: true},
			API:     config.BucketSettings{MaxTokens: 1000, RefillInterval: time.Millisecond, FailOpen: true},
		},
		CORS: config.CORSSettings{AllowedOrigins: []string{"*"}},
	}

	return httproutes.Register(httproutes.Dependencies{
		Config:      cfg,
		Logger:      logger,
		RateLimiter: middleware.NewRateLimiter(buckets, nil, logger),
		CSRF:        signer,
		Services: httproutes.ServiceSet{
			Auth:         auth,
			Registration: registration,
			Merge:        merge,
			Deletion:     deletion,
			Sessions:     sessions,
		},
	})
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == "pipehub_session" && cookie.Value != "" {
			return cookie
		}
	}
	t.Fatalf("expected session cookie in response, got %v", rr.Header().Values("Set-Cookie"))
	return nil
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestRegisterLoginLogoutFlow(t *testing.T) {
	engine := newTestEngine(t)

	body := `{"email":"ada@example.com","password":"tr0ub4dour&horse-staple","workspace_name":"Acme"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	engine.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 from register, got %d: %s", rr.Code, rr.Body.String())
	}

	var registered struct {
		UserID    string `json:"user_id"`
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &registered); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if registered.UserID == "" || registered.CSRFToken == "" {
		t.Fatalf("incomplete register response: %s", rr.Body.String())
	}
	cookie := sessionCookie(t, rr)

	// The CSRF token also travels as a script-readable cookie so browser
	// clients can echo it without parsing the body.
	csrfCookie := findCookie(rr, "pipehub_csrf")
	if csrfCookie == nil {
		t.Fatalf("expected csrf cookie in response, got %v", rr.Header().Values("Set-Cookie"))
	}
	if csrfCookie.Value != registered.CSRFToken {
		t.Fatal("csrf cookie must carry the same token as the response body")
	}
	if csrfCookie.HttpOnly {
		t.Fatal("csrf cookie must be readable from script")
	}

	// Session listing works with the fresh cookie.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	engine.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from session list, got %d: %s", rr.Code, rr.Body.String())
	}
	var listed struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode session list: %v", err)
	}
	if listed.Total != 1 {
		t.Fatalf("expected one live session, got %d", listed.Total)
	}

	// Mutating request without the CSRF token is rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	engine.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", rr.Code)
	}

	// With the token, logout revokes the session.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(cookie)
	req.Header.Set(middleware.CSRFTokenHeader, registered.CSRFToken)
	rr = httptest.NewRecorder()
	engine.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d: %s", rr.Code, rr.Body.String())
	}
	if cleared := findCookie(rr, "pipehub_csrf"); cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("expected logout to clear the csrf cookie, got %v", rr.Header().Values("Set-Cookie"))
	}

	// The revoked cookie no longer authenticates.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	engine.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}

	// Login opens a new session for the registered credentials.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"ADA@example.com","password":"tr0ub4dour&horse-staple"}`))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	engine.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d: %s", rr.Code, rr.Body.String())
	}
	sessionCookie(t, rr)
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	engine := newTestEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"ghost@example.com","password":"whatever-goes-here"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	engine.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d: %s", rr.Code, rr.Body.String())
	}
}
