package api

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ghuser/notifyhub/pkg/app"
	"github.com/ghuser/notifyhub/pkg/auth"
	"github.com/ghuser/notifyhub/pkg/httpx"
	"github.com/ghuser/notifyhub/services/notification/application/handlers"
	appsvcs "github.com/ghuser/notifyhub/services/notification/application/services"
)

// requestTimeout bounds every non-streaming notification endpoint.
const requestTimeout = 30 * time.Second

// NotificationRoutes registers notification endpoints on the provided chi router.
// The stream endpoint is mounted outside the request timeout.
func NotificationRoutes(r chi.Router, a *app.Application, svcs *appsvcs.Services) {
	requireAuth := auth.RequireAuth(a.Tokens, a.Logger)

	r.Route("/notifications", func(r chi.Router) {
		r.With(requireAuth).Get("/stream", handlers.NewStreamHandler(
			svcs.Fanout, a.Config.KeepaliveInterval, a.Config.StreamWriteTimeout, a.Logger,
		).Execute)

		r.Group(func(r chi.Router) {
			r.Use(httpx.RequestTimeout(requestTimeout))
			r.Get("/status", handlers.NewStatusHandler(svcs.Fanout).Execute)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.With(auth.RequireScope(auth.ScopePublish, a.Logger)).
					Post("/", handlers.NewPublishHandler(svcs.Fanout).Execute)
				r.Get("/presence/{recipient}", handlers.NewPresenceHandler(svcs.Fanout, svcs.Presence).Execute)
			})
		})
	})
}
