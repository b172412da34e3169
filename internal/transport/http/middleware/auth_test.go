package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/infra/config"
	"github.com/mkalens/pipehub-identity/internal/repository"
	"github.com/mkalens/pipehub-identity/internal/usecase"
)

type stubSessionStore struct {
	records map[string]domain.Session
	index   map[string]map[string]struct{}
}

func newStubSessionStore() *stubSessionStore {
	return &stubSessionStore{
		records: make(map[string]domain.Session),
		index:   make(map[string]map[string]struct{}),
	}
}

func (s *stubSessionStore) Save(_ context.Context, session domain.Session, _ time.Duration) error {
	s.records[session.ID] = session
	return nil
}

func (s *stubSessionStore) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	session, ok := s.records[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := session
	return &copied, nil
}

func (s *stubSessionStore) Delete(_ context.Context, sessionID string) error {
	delete(s.records, sessionID)
	return nil
}

func (s *stubSessionStore) Index(_ context.Context, userID, sessionID string) error {
	if s.index[userID] == nil {
		s.index[userID] = make(map[string]struct{})
	}
	s.index[userID][sessionID] = struct{}{}
	return nil
}

func (s *stubSessionStore) Unindex(_ context.Context, userID, sessionID string) error {
	delete(s.index[userID], sessionID)
	return nil
}

func (s *stubSessionStore) IndexedSessionIDs(_ context.Context, userID string) ([]string, error) {
	ids := make([]string, 0, len(s.index[userID]))
	for id := range s.index[userID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func testCookieSettings() config.SessionSettings {
	return config.SessionSettings{CookieName: "pipehub_session", CSRFCookieName: "pipehub_csrf"}
}

func newSessionRouter(t *testing.T, sessions *usecase.SessionService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(EnrichContext())
	router.Use(RequireSession(sessions, testCookieSettings()))
	router.GET("/me", func(c *gin.Context) {
		session, ok := GetSession(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": session.UserID})
	})
	return router
}

func TestRequireSessionRejectsMissingCookie(t *testing.T) {
	sessions := usecase.NewSessionService(newStubSessionStore(), nil, zaptest.NewLogger(t))
	router := newSessionRouter(t, sessions)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Unauthorized") {
		t.Fatalf("expected Unauthorized message, got %s", rr.Body.String())
	}
}

func TestRequireSessionResolvesActiveSession(t *testing.T) {
	store := newStubSessionStore()
	sessions := usecase.NewSessionService(store, nil, zaptest.NewLogger(t))

	binding := domain.Binding{AccountID: "acc-1", TenantID: "ten-1", RoleID: "role-1"}
	_, token, err := sessions.Create(context.Background(), "user-1", binding, nil, nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	router := newSessionRouter(t, sessions)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "pipehub_session", Value: token})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "user-1") {
		t.Fatalf("expected user id in response, got %s", rr.Body.String())
	}
}

func TestRequireSessionClearsStaleCookie(t *testing.T) {
	sessions := usecase.NewSessionService(newStubSessionStore(), nil, zaptest.NewLogger(t))
	router := newSessionRouter(t, sessions)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "pipehub_session", Value: "no-such-token"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	setCookie := strings.Join(rr.Header().Values("Set-Cookie"), "; ")
	if !strings.Contains(setCookie, "pipehub_session=") || !strings.Contains(setCookie, "Max-Age=0") {
		t.Fatalf("expected stale cookie to be cleared, got %q", setCookie)
	}
	if !strings.Contains(setCookie, "pipehub_csrf=") {
		t.Fatalf("expected csrf cookie to be cleared alongside the session, got %q", setCookie)
	}
}

func TestRequireSessionRejectsRevokedSession(t *testing.T) {
	store := newStubSessionStore()
	sessions := usecase.NewSessionService(store, nil, zaptest.NewLogger(t))

	binding := domain.Binding{AccountID: "acc-1", TenantID: "ten-1", RoleID: "role-1"}
	session, token, err := sessions.Create(context.Background(), "user-1", binding, nil, nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := sessions.Invalidate(context.Background(), session.ID, "logout"); err != nil {
		t.Fatalf("invalidate session: %v", err)
	}

	router := newSessionRouter(t, sessions)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "pipehub_session", Value: token})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked session, got %d", rr.Code)
	}
}
