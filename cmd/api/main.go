package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "github.com/ghuser/notifyhub/docs/swagger"
	"github.com/ghuser/notifyhub/pkg/app"
	"github.com/ghuser/notifyhub/pkg/auth"
	"github.com/ghuser/notifyhub/pkg/cache"
	"github.com/ghuser/notifyhub/pkg/config"
	"github.com/ghuser/notifyhub/pkg/events"
	"github.com/ghuser/notifyhub/pkg/httpx"
	"github.com/ghuser/notifyhub/pkg/logger"
	"github.com/ghuser/notifyhub/pkg/telemetry"
	notificationApi "github.com/ghuser/notifyhub/services/notification/application/api"
	notificationSvcs "github.com/ghuser/notifyhub/services/notification/application/services"
)

// @title						notifyhub API
// @version					1.0
// @description				Real-time notification fan-out over server-sent events.
// @license.name				MIT
// @license.url				https://opensource.org/licenses/MIT
// @host						localhost:8080
// @BasePath					/api
// @schemes					http https
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := config.ValidateForProduction(cfg); err != nil {
		slog.Error("production config validation failed", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg)

	// Telemetry: OTel tracing + metrics
	ctx := context.Background()
	otelShutdown, metricsHandler, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		log.Error("failed to setup otel", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx) //nolint:errcheck

	// Crash reporting: Sentry (optional; log and continue on failure)
	if err := telemetry.SetupSentry(cfg); err != nil {
		log.Warn("failed to setup sentry, continuing without crash reporting", "error", err)
	}
	defer telemetry.SentryFlush()

	// Redis carries the default broker and the presence directory. Other
	// drivers run without it when it is unreachable.
	redisClient, err := cache.NewRedisClient(cfg)
	switch {
	case err == nil:
		defer redisClient.Close() //nolint:errcheck
		log.Info("redis connected")
	case cfg.BrokerDriver == config.BrokerRedis:
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1) //nolint:gocritic // intentional: startup failure, deferred flushes are best-effort
	default:
		log.Warn("redis unavailable, presence directory disabled", "error", err)
		redisClient = nil
	}

	var rdb *redis.Client
	if redisClient != nil {
		rdb = redisClient.Client()
	}
	eventBus, err := events.NewEventBus(cfg, log, rdb)
	if err != nil {
		log.Error("failed to setup event bus", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer eventBus.Close() //nolint:errcheck
	log.Info("event bus ready", "driver", eventBus.Driver(), "topic", cfg.NotificationTopic)

	appConfig := &app.Application{
		Config:   cfg,
		Logger:   log,
		EventBus: eventBus,
		Redis:    redisClient,
		Tokens:   auth.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer),
	}

	svcs, err := notificationSvcs.New(appConfig)
	if err != nil {
		log.Error("failed to wire notification services", "error", err)
		os.Exit(1) //nolint:gocritic
	}

	runCtx, stopRun := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- svcs.Run(runCtx) }()

	r := httpx.NewRouter(
		httpx.ServerConfig{
			ServiceName:        cfg.ServiceName,
			IsDevelopment:      cfg.Environment == config.EnvDevelopment,
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		},
		logger.Middleware(log),
		logger.Recovery(log),
		telemetry.SentryMiddleware(),
		otelhttp.NewMiddleware(cfg.ServiceName),
	)

	checks := httpx.HealthChecks{Broker: svcs.BrokerHealth()}
	if redisClient != nil {
		checks.Redis = redisClient
	}
	r.Get("/health", httpx.HealthHandler(checks))
	r.Get("/metrics", metricsHandler.ServeHTTP)
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	r.Route("/api", func(r chi.Router) {
		registerRoutes(r, appConfig, svcs)
	})

	// Streams derive their context from streamCtx so shutdown can end them.
	streamCtx, endStreams := context.WithCancel(ctx)
	srv := httpx.NewServer(cfg.HTTPAddr, r)
	srv.BaseContext = func(net.Listener) context.Context { return streamCtx }

	go func() {
		log.Info("server listening", "addr", srv.Addr, "env", cfg.Environment, "instance_id", cfg.InstanceID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Flush pending batches, then end open streams so Shutdown does not
	// wait on them. Clients reconnect to another instance.
	stopRun()
	if err := <-runDone; err != nil {
		log.Error("notification engine stopped with error", "error", err)
	}
	endStreams()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
		_ = srv.Close()
	}
	log.Info("server stopped")
}

// registerRoutes mounts all service routes under /api.
// Add each new service's route function here.
func registerRoutes(r chi.Router, a *app.Application, svcs *notificationSvcs.Services) {
	notificationApi.NotificationRoutes(r, a, svcs)
}
