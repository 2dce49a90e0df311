package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/ghuser/notifyhub/pkg/auth"
	"github.com/ghuser/notifyhub/pkg/errhttp"
	"github.com/ghuser/notifyhub/pkg/httpx"
	"github.com/ghuser/notifyhub/pkg/logger"
	"github.com/ghuser/notifyhub/services/notification/application/fanout"
	"github.com/ghuser/notifyhub/services/notification/domain"
)

// LastEventIDParam is the query fallback for the Last-Event-ID header.
const LastEventIDParam = "lastEventId"

// StreamHandler handles GET /notifications/stream requests.
type StreamHandler struct {
	svc          *fanout.Service
	keepalive    time.Duration
	writeTimeout time.Duration
	log          logger.Logger
}

// NewStreamHandler returns a StreamHandler backed by the fan-out engine.
func NewStreamHandler(svc *fanout.Service, keepalive, writeTimeout time.Duration, log logger.Logger) *StreamHandler {
	return &StreamHandler{svc: svc, keepalive: keepalive, writeTimeout: writeTimeout, log: log}
}

// Execute opens an event stream for the authenticated recipient.
//
//	@Summary		Open notification stream
//	@Description	Server-sent event stream of notifications for the authenticated recipient.
//	@Description	Resumes after Last-Event-ID (or lastEventId) when it is still in the replay window.
//	@Tags			notifications
//	@Produce		text/event-stream
//	@Security		BearerAuth
//	@Param			Last-Event-ID	header		string	false	"Resume after this envelope id"
//	@Param			lastEventId		query		string	false	"Resume id for clients that cannot set headers"
//	@Param			token			query		string	false	"Bearer token for clients that cannot set headers"
//	@Success		200				{string}	string	"event stream"
//	@Failure		401				{object}	ErrorResponse
//	@Failure		501				{object}	ErrorResponse
//	@Router			/notifications/stream [get]
func (h *StreamHandler) Execute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recipient, err := auth.RecipientFromCtx(ctx)
	if err != nil {
		httpx.JSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	if err := http.NewResponseController(w).Flush(); err != nil {
		if errors.Is(err, http.ErrNotSupported) {
			err = domain.ErrStreamingUnsupported
		}
		header.Del("Cache-Control")
		header.Del("X-Accel-Buffering")
		errhttp.WriteError(w, err)
		return
	}

	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get(LastEventIDParam)
	}

	conn, err := h.svc.OpenConnection(ctx, recipient, lastEventID)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to open stream", "recipient", recipient, "error", err)
		return
	}

	sink := newSSESink(w, h.writeTimeout)
	if err := sink.WriteConnected(); err != nil {
		conn.Close(fanout.ReasonErrored)
		return
	}

	reason := conn.Serve(ctx, sink, h.keepalive)
	h.log.DebugContext(ctx, "stream ended", "recipient", recipient, "reason", string(reason))
}
