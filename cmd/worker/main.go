package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/ghuser/notifyhub/pkg/cache"
	"github.com/ghuser/notifyhub/pkg/config"
	"github.com/ghuser/notifyhub/pkg/events"
	"github.com/ghuser/notifyhub/pkg/logger"
	"github.com/ghuser/notifyhub/pkg/telemetry"
	"github.com/ghuser/notifyhub/services/notification/application/relay"
	"github.com/ghuser/notifyhub/services/notification/infrastructure/bridge"
)

// The worker consumes item lifecycle events and publishes the resulting
// notifications on the notification topic, where every API instance picks
// them up.
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

	log := logger.New(cfg).With("role", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, _, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		log.Error("failed to setup otel", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(context.Background()) //nolint:errcheck

	if err := telemetry.SetupSentry(cfg); err != nil {
		log.Warn("failed to setup sentry, continuing without crash reporting", "error", err)
	}
	defer telemetry.SentryFlush()

	var rdb *redis.Client
	if cfg.BrokerDriver == config.BrokerRedis {
		redisClient, err := cache.NewRedisClient(cfg)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1) //nolint:gocritic
		}
		defer redisClient.Close() //nolint:errcheck
		rdb = redisClient.Client()
		log.Info("redis connected")
	}

	eventBus, err := events.NewEventBus(cfg, log, rdb)
	if err != nil {
		log.Error("failed to setup event bus", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	// EventBus.Close() waits up to 30s for in-flight handlers.
	defer eventBus.Close() //nolint:errcheck

	br := bridge.New(eventBus, bridge.Config{
		Topic:      cfg.NotificationTopic,
		InstanceID: cfg.InstanceID,
	}, log)

	if err := relay.New(br, log).Register(ctx, eventBus); err != nil {
		log.Error("failed to register subscribers", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	log.Info("worker started", "driver", eventBus.Driver(), "instance_id", cfg.InstanceID)

	<-ctx.Done()
	log.Info("shutting down worker...")
}
