package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mkalens/pipehub-identity/internal/infra/config"
	"github.com/mkalens/pipehub-identity/internal/infra/security"
	"github.com/mkalens/pipehub-identity/internal/transport/http/handlers"
	"github.com/mkalens/pipehub-identity/internal/transport/http/middleware"
	"github.com/mkalens/pipehub-identity/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth         *usecase.AuthService
	Registration *usecase.RegistrationService
	Merge        *usecase.MergeService
	Deletion     *usecase.DeletionService
	Sessions     *usecase.SessionService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	CSRF        *security.CSRFSigner
	Metrics     *middleware.HTTPMetrics
	Services    ServiceSet
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.CORS.AllowedOrigins))
	r.Use(deps.Metrics.Handler())

	healthOptions := make([]handlers.HealthOption, 0, 2)

	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	cookie := deps.Config.Session
	requireSession := middleware.RequireSession(deps.Services.Sessions, cookie)
	requireCSRF := middleware.RequireCSRF(deps.CSRF)

	api := r.Group("/api/v1")
	api.Use(deps.RateLimiter.Limit(middleware.BucketRule{
		Name:     "api",
		Settings: deps.Config.RateLimit.API,
	}))
	{
		authLimit := deps.RateLimiter.Limit(middleware.BucketRule{
			Name:     "auth",
			Settings: deps.Config.RateLimit.Auth,
		})

		authHandler := handlers.NewAuthHandler(deps.Services.Auth, deps.Services.Sessions, deps.CSRF, cookie)
		registrationHandler := handlers.NewRegistrationHandler(deps.Services.Registration, deps.Services.Auth, deps.CSRF, cookie, deps.Logger)

		publicAuth := api.Group("/auth")
		publicAuth.Use(authLimit)
		authHandler.RegisterPublicRoutes(publicAuth)
		registrationHandler.RegisterRoutes(publicAuth)

		protectedAuth := api.Group("/auth")
		protectedAuth.Use(requireSession, requireCSRF)
		authHandler.RegisterProtectedRoutes(protectedAuth)

		objectsLimit := deps.RateLimiter.Limit(middleware.BucketRule{
			Name:       "objects",
			Settings:   deps.Config.RateLimit.Objects,
			Identifier: middleware.UserOrIPIdentifier(),
		})

		sessionHandler := handlers.NewSessionHandler(deps.Services.Auth, deps.Services.Sessions)
		sessionGroup := api.Group("/sessions")
		sessionGroup.Use(requireSession, requireCSRF, objectsLimit)
		sessionHandler.RegisterRoutes(sessionGroup)

		accountHandler := handlers.NewAccountHandler(deps.Services.Auth, deps.Services.Merge, deps.Services.Deletion, cookie)
		accountGroup := api.Group("/accounts")
		accountGroup.Use(requireSession, requireCSRF, objectsLimit)
		accountHandler.RegisterRoutes(accountGroup)

		userGroup := api.Group("/user")
		userGroup.Use(requireSession, requireCSRF, objectsLimit)
		accountHandler.RegisterUserRoutes(userGroup)

		tenantHandler := handlers.NewTenantHandler(deps.Services.Deletion)
		tenantGroup := api.Group("/tenants")
		tenantGroup.Use(requireSession, requireCSRF, objectsLimit)
		tenantHandler.RegisterRoutes(tenantGroup)
	}

	return r
}
