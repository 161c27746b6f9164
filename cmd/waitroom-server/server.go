package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicflow/waitroom/internal/config"
	"github.com/clinicflow/waitroom/internal/domain/appointment"
	"github.com/clinicflow/waitroom/internal/domain/waitingroom"
	"github.com/clinicflow/waitroom/internal/platform/auth"
	"github.com/clinicflow/waitroom/internal/platform/db"
	"github.com/clinicflow/waitroom/internal/platform/events"
	"github.com/clinicflow/waitroom/internal/platform/middleware"
	"github.com/clinicflow/waitroom/internal/platform/notification"
	"github.com/clinicflow/waitroom/internal/platform/telemetry"
	"github.com/clinicflow/waitroom/internal/platform/websocket"
	"github.com/clinicflow/waitroom/migrations"
)

// app holds the wired server and everything that must be released on exit.
type app struct {
	echo         *echo.Echo
	logger       zerolog.Logger
	pool         *pgxpool.Pool
	appointments appointment.Repository
	queue        *waitingroom.Service
	fanout       *events.Fanout
	hub          *websocket.Hub
	notifier     *notification.Notifier
	metrics      *telemetry.Metrics
	closers      []func(context.Context) error
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Error().Err(err).Msg("shutdown step failed")
		}
	}
	a.closers = nil
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    "waitroom",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRatio:    cfg.OTelSamplingRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.onClose(shutdownTracing)

	var (
		journal     waitingroom.Journal
		checks      []db.Check
		clinicCheck waitingroom.ClinicCheck
	)
	if cfg.UsesMemoryStore() {
		a.appointments = appointment.NewMemoryRepo()
		journal = waitingroom.NewMemoryJournal()
		clinicCheck = waitingroom.AllowClinics(cfg.KnownClinics()...)
		logger.Info().Strs("clinics", cfg.KnownClinics()).Msg("using in-memory store")
	} else {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		a.onClose(func(context.Context) error { pool.Close(); return nil })
		if err := db.CreateTenantSchema(ctx, pool, cfg.DefaultTenant, db.NewMigrator(pool, migrations.FS)); err != nil {
			return nil, fmt.Errorf("prepare default clinic: %w", err)
		}
		a.appointments = appointment.NewRepoPG(pool)
		journal = waitingroom.NewJournalPG(pool)
		clinicCheck = func(ctx context.Context, clinicID string) (bool, error) {
			return db.TenantSchemaExists(ctx, pool, clinicID)
		}
		logger.Info().Str("clinic_id", cfg.DefaultTenant).Msg("connected to database")
	}

	limiter, limiterCheck, err := newLimiter(cfg, a)
	if err != nil {
		return nil, err
	}
	if limiterCheck != nil {
		checks = append(checks, *limiterCheck)
	}

	a.hub = websocket.NewHub(logger)
	a.onClose(func(context.Context) error { a.hub.Close(); return nil })
	a.notifier = notification.NewNotifier(notification.NewTemplateEngine(), a.hub)
	a.metrics = telemetry.NewMetrics()

	a.fanout = events.NewFanout(logger,
		events.Sink{Name: "websocket", Publisher: events.NewHubSink(a.hub)},
		events.Sink{Name: "toasts", Publisher: a.notifier},
		events.Sink{Name: "metrics", Publisher: a.metrics},
		events.Sink{Name: "journal", Publisher: journal},
	)

	if len(cfg.KafkaBrokers) > 0 {
		brokers := strings.Join(cfg.KafkaBrokers, ",")
		kp, err := events.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("kafka: %w", err)
		}
		a.onClose(func(context.Context) error { return kp.Close() })
		a.fanout.Add("kafka", kp)
		checks = append(checks, db.Check{Name: "kafka", Ping: events.KafkaReadyCheck(brokers)})
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing queue events to kafka")
	}

	if cfg.AMQPURL != "" {
		ap, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			// Broker delivery is best effort.
			logger.Warn().Err(err).Msg("rabbitmq unavailable, events will not be published there")
		} else {
			a.onClose(func(context.Context) error { return ap.Close() })
			a.fanout.Add("rabbitmq", ap)
			logger.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing queue events to rabbitmq")
		}
	}

	registry := waitingroom.NewRegistry(a.appointments, waitingroom.Thresholds{
		MediumAfter: cfg.QueueMediumAfterMinutes,
		HighAfter:   cfg.QueueHighAfterMinutes,
	}).WithClinicCheck(clinicCheck)
	a.queue = waitingroom.NewService(registry, a.fanout)
	a.metrics.SetQueueLengthSource(a.queue.QueueLengths)

	authMW, err := newAuth(cfg)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(telemetry.TracingMiddleware("waitroom"))
	e.Use(a.metrics.Middleware())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Clinic-ID"},
	}))

	// Health and metrics
	e.GET("/health", db.HealthHandler(a.pool, checks...))
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}
	e.GET("/metrics", a.metrics.Handler())

	tenantMW := db.TenantMiddleware(a.pool, cfg.DefaultTenant)
	websocket.NewHandler(a.hub).RegisterRoutes(e, authMW, tenantMW)

	apiV1 := e.Group("/api/v1", authMW, tenantMW, middleware.RateLimit(limiter, logger))
	appointment.NewHandler(appointment.NewService(a.appointments).WithGuard(a.queue)).RegisterRoutes(apiV1)
	waitingroom.NewHandler(a.queue, journal).RegisterRoutes(apiV1)
	notification.NewHandler(a.notifier).RegisterRoutes(apiV1)

	a.echo = e
	return a, nil
}

// newAuth returns the authentication middleware for the configured mode.
// Development mode still verifies tokens that are presented when a verifier
// can be built.
func newAuth(cfg *config.Config) (echo.MiddlewareFunc, error) {
	var verify echo.MiddlewareFunc
	if cfg.AuthIssuer != "" || cfg.AuthJWKSURL != "" || cfg.AuthSigningKey != "" {
		mw, err := auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.Skipper,
		})
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		verify = mw
	}

	if cfg.ResolvedAuthMode() == config.AuthDevelopment {
		return auth.DevAuthMiddleware(verify), nil
	}
	if verify == nil {
		return nil, fmt.Errorf("auth: %s mode needs AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY", config.AuthJWT)
	}
	return verify, nil
}

// newLimiter shares rate-limit counters through Redis when REDIS_URL is set
// and falls back to per-process token buckets otherwise.
func newLimiter(cfg *config.Config, a *app) (middleware.Limiter, *db.Check, error) {
	if cfg.RedisURL == "" {
		rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
		if rl.RequestsPerSecond <= 0 {
			rl = middleware.DefaultRateLimitConfig()
		}
		return middleware.NewMemoryLimiter(rl), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	a.onClose(func(context.Context) error { return rdb.Close() })

	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	limit := int(math.Ceil(cfg.RateLimitRPS * window.Seconds()))
	if limit <= 0 {
		def := middleware.DefaultRateLimitConfig()
		limit = int(math.Ceil(def.RequestsPerSecond * window.Seconds()))
	}
	check := &db.Check{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }}
	return middleware.NewRedisLimiter(rdb, limit, window, "waitroom:rl"), check, nil
}
