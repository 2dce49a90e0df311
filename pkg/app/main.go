package app

import (
	"github.com/ghuser/notifyhub/pkg/auth"
	"github.com/ghuser/notifyhub/pkg/cache"
	"github.com/ghuser/notifyhub/pkg/config"
	"github.com/ghuser/notifyhub/pkg/events"
	"github.com/ghuser/notifyhub/pkg/logger"
)

// Application holds shared infrastructure dependencies for all services.
// Pass to each service's route registration during server initialization.
//
// Logging: app.Logger is backed by a trace-aware handler; use slog's context methods
// and trace_id, span_id, and request_id are injected automatically:
//
//	app.Logger.InfoContext(ctx, "stream opened", "recipient", recipient)
//	app.Logger.ErrorContext(ctx, "failed to publish", "error", err)
//
// Use app.Logger.Info/Error (no context) only for startup and shutdown messages.
type Application struct {
	Config   *config.Config
	Logger   logger.Logger
	EventBus *events.EventBus
	Redis    *cache.RedisClient // nil when Redis is not reachable and not required
	Tokens   *auth.TokenVerifier
}
