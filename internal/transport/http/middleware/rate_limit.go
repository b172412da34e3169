package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mkalens/pipehub-identity/internal/core/port"
	"github.com/mkalens/pipehub-identity/internal/infra/config"
)

const (
	rateLimitProblemType  = "https://identity.pipehub.example.com/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// IdentifierFunc extracts the identifier used to scope rate limits (e.g., client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// BucketRule names one limiter tier and binds it to a bucket shape.
type BucketRule struct {
	Name       string
	Settings   config.BucketSettings
	Cost       int
	Identifier IdentifierFunc
}

// RateLimiter enforces token-bucket rules against a shared store.
type RateLimiter struct {
	store  port.TokenBucketStore
	denies *prometheus.CounterVec
	logger *zap.Logger
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store port.TokenBucketStore, denies *prometheus.CounterVec, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		store:  store,
		denies: denies,
		logger: logger,
	}
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		if ip == "" {
			return "", false
		}
		return ip, true
	}
}

// UserOrIPIdentifier keys the bucket by authenticated user when a session has
// been resolved, falling back to the client IP for anonymous requests.
func UserOrIPIdentifier() IdentifierFunc {
	byIP := ClientIPIdentifier()
	return func(c *gin.Context) (string, bool) {
		if userID, ok := GetAuthenticatedUserID(c); ok {
			return "user:" + userID, true
		}
		return byIP(c)
	}
}

// Limit returns a Gin middleware enforcing the provided rule. A store failure
// follows the rule's FailOpen policy: pass the request through, or deny it the
// way an exhausted bucket would.
func (rl *RateLimiter) Limit(rule BucketRule) gin.HandlerFunc {
	if rule.Identifier == nil {
		rule.Identifier = ClientIPIdentifier()
	}
	if rule.Cost <= 0 {
		rule.Cost = 1
	}
	if rule.Name == "" {
		rule.Name = "default"
	}

	return func(c *gin.Context) {
		if rl == nil || rl.store == nil || rule.Settings.MaxTokens <= 0 {
			c.Next()
			return
		}

		identifier, ok := rule.Identifier(c)
		if !ok || identifier == "" {
			c.Next()
			return
		}

		key := fmt.Sprintf("%s:%s", rule.Name, identifier)

		decision, err := rl.store.Take(c.Request.Context(), key, rule.Cost,
			int(rule.Settings.MaxTokens), rule.Settings.RefillInterval)
		if err != nil {
			rl.logger.Warn("rate limit check failed",
				zap.String("rule", rule.Name),
				zap.String("identifier", identifier),
				zap.Bool("fail_open", rule.Settings.FailOpen),
				zap.Error(err))

			if rule.Settings.FailOpen {
				c.Next()
				return
			}

			decision = port.BucketDecision{
				Allowed:    false,
				Remaining:  0,
				RetryAfter: rule.Settings.RefillInterval,
			}
		}

		headers := c.Writer.Header()
		headers.Set("X-RateLimit-Limit", strconv.FormatInt(rule.Settings.MaxTokens, 10))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(maxInt(decision.Remaining, 0)))

		if decision.Allowed {
			c.Next()
			return
		}

		if rl.denies != nil {
			rl.denies.WithLabelValues(rule.Name).Inc()
		}

		retrySeconds := int(math.Ceil(decision.RetryAfter.Seconds()))
		if retrySeconds < 0 {
			retrySeconds = 0
		}
		headers.Set("Retry-After", strconv.Itoa(retrySeconds))

		instance := c.FullPath()
		if instance == "" {
			instance = c.Request.URL.Path
		}

		c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
			Type:       rateLimitProblemType,
			Title:      rateLimitProblemTitle,
			Status:     http.StatusTooManyRequests,
			Detail:     fmt.Sprintf("Too many requests. Try again in %d seconds.", retrySeconds),
			Instance:   instance,
			RetryAfter: retrySeconds,
			TraceID:    GetTraceID(c),
		})
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
