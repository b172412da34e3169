package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mkalens/pipehub-identity/internal/core/port"
	"github.com/mkalens/pipehub-identity/internal/infra/config"
	"github.com/mkalens/pipehub-identity/internal/infra/database"
	kafkainfra "github.com/mkalens/pipehub-identity/internal/infra/kafka"
	"github.com/mkalens/pipehub-identity/internal/infra/logger"
	redisinfra "github.com/mkalens/pipehub-identity/internal/infra/redis"
	"github.com/mkalens/pipehub-identity/internal/infra/security"
	"github.com/mkalens/pipehub-identity/internal/infra/telemetry"
	postgresrepo "github.com/mkalens/pipehub-identity/internal/repository/postgres"
	redisrepo "github.com/mkalens/pipehub-identity/internal/repository/redis"
	"github.com/mkalens/pipehub-identity/internal/transport/http/middleware"
	"github.com/mkalens/pipehub-identity/internal/transport/http/routes"
	"github.com/mkalens/pipehub-identity/internal/usecase"
)

// Application wires configuration, infrastructure, services, and the HTTP
// engine together.
type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
}

// New composes the application from configuration.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	telemetryProvider, err := telemetry.Attach(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	signer, err := security.NewCSRFSigner(cfg.CSRF.Secret)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init csrf signer: %w", err)
	}

	var producer *kafkainfra.Producer
	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	directory := postgresrepo.NewDirectory(pool)
	sessionStore := redisrepo.NewSessionRepository(redisClient.Client(), cfg.Redis.SessionPrefix)
	bucketStore := redisrepo.NewTokenBucketRepository(redisClient.Client(), cfg.Redis.RateLimitPrefix)

	sessionService := usecase.NewSessionService(sessionStore, eventPublisher, log).
		WithLifetimes(cfg.Session.Lifetime, cfg.Session.RenewalWindow, cfg.Session.AuditRetention)
	authService := usecase.NewAuthService(directory, sessionService, log)
	registrationService := usecase.NewRegistrationService(directory, eventPublisher, log)
	mergeService := usecase.NewMergeService(directory, sessionService, eventPublisher, log)
	deletionService := usecase.NewDeletionService(directory, sessionService, eventPublisher, log)

	rateLimiter := middleware.NewRateLimiter(bucketStore, telemetryProvider.RateLimitDenies(), log)

	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		CSRF:        signer,
		Metrics:     metrics,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Auth:         authService,
			Registration: registrationService,
			Merge:        mergeService,
			Deletion:     deletionService,
			Sessions:     sessionService,
		},
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
	}, nil
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting identity API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
