package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/mkalens/pipehub-identity/internal/core/port"
	"github.com/mkalens/pipehub-identity/internal/infra/config"
)

type fakeBucketStore struct {
	decision port.BucketDecision
	err      error

	keys  []string
	costs []int
	maxes []int
}

func (f *fakeBucketStore) Take(_ context.Context, key string, cost, maxTokens int, _ time.Duration) (port.BucketDecision, error) {
	f.keys = append(f.keys, key)
	f.costs = append(f.costs, cost)
	f.maxes = append(f.maxes, maxTokens)
	return f.decision, f.err
}

func newLimitedRouter(t *testing.T, store port.TokenBucketStore, denies *prometheus.CounterVec, rule BucketRule) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(NewRateLimiter(store, denies, zaptest.NewLogger(t)).Limit(rule))
	router.POST("/login", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRateLimiterAllowsAndSetsHeaders(t *testing.T) {
	store := &fakeBucketStore{decision: port.BucketDecision{Allowed: true, Remaining: 4}}

	router := newLimitedRouter(t, store, nil, BucketRule{
		Name:     "auth",
		Settings: config.BucketSettings{MaxTokens: 10, RefillInterval: 6 * time.Second},
	})

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Fatalf("expected limit header 10, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("expected remaining header 4, got %q", got)
	}
	if got := rr.Header().Get("Retry-After"); got != "" {
		t.Fatalf("expected no retry-after header, got %q", got)
	}

	if len(store.keys) != 1 || store.keys[0] != "auth:192.0.2.1" {
		t.Fatalf("expected bucket key auth:192.0.2.1, got %v", store.keys)
	}
	if store.costs[0] != 1 || store.maxes[0] != 10 {
		t.Fatalf("expected cost 1 max 10, got cost %d max %d", store.costs[0], store.maxes[0])
	}
}

func TestRateLimiterDeniesWithProblemDetails(t *testing.T) {
	store := &fakeBucketStore{decision: port.BucketDecision{Allowed: false, Remaining: 0, RetryAfter: 3 * time.Second}}
	denies := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "denies_test"}, []string{"tier"})

	router := newLimitedRouter(t, store, denies, BucketRule{
		Name:     "auth",
		Settings: config.BucketSettings{MaxTokens: 10, RefillInterval: 6 * time.Second},
	})

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("expected retry-after 3, got %q", got)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to decode problem details: %v", err)
	}
	if problem.Status != http.StatusTooManyRequests || problem.RetryAfter != 3 {
		t.Fatalf("unexpected problem payload: %+v", problem)
	}
	if problem.Instance != "/login" {
		t.Fatalf("expected instance /login, got %q", problem.Instance)
	}

	if got := testutil.ToFloat64(denies.WithLabelValues("auth")); got != 1 {
		t.Fatalf("expected one recorded deny, got %f", got)
	}
}

func TestRateLimiterFailOpenPassesThroughOnStoreError(t *testing.T) {
	store := &fakeBucketStore{err: errors.New("redis down")}

	router := newLimitedRouter(t, store, nil, BucketRule{
		Name:     "api",
		Settings: config.BucketSettings{MaxTokens: 120, RefillInterval: 500 * time.Millisecond, FailOpen: true},
	})

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on fail-open, got %d", rr.Code)
	}
}

func TestRateLimiterFailClosedDeniesOnStoreError(t *testing.T) {
	store := &fakeBucketStore{err: errors.New("redis down")}
	denies := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "denies_closed_test"}, []string{"tier"})

	router := newLimitedRouter(t, store, denies, BucketRule{
		Name:     "auth",
		Settings: config.BucketSettings{MaxTokens: 10, RefillInterval: 6 * time.Second, FailOpen: false},
	})

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on fail-closed, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "6" {
		t.Fatalf("expected retry-after 6, got %q", got)
	}
	if got := testutil.ToFloat64(denies.WithLabelValues("auth")); got != 1 {
		t.Fatalf("expected one recorded deny, got %f", got)
	}
}

func TestRateLimiterUserIdentifierPrefersSession(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := &fakeBucketStore{decision: port.BucketDecision{Allowed: true, Remaining: 9}}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(UserIDKey, "user-1")
		c.Next()
	})
	router.Use(NewRateLimiter(store, nil, zaptest.NewLogger(t)).Limit(BucketRule{
		Name:       "objects",
		Settings:   config.BucketSettings{MaxTokens: 60, RefillInterval: time.Second},
		Identifier: UserOrIPIdentifier(),
	}))
	router.POST("/objects", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/objects", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(store.keys) != 1 || store.keys[0] != "objects:user:user-1" {
		t.Fatalf("expected user scoped key, got %v", store.keys)
	}
}
