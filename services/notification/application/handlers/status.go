package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ghuser/notifyhub/pkg/errhttp"
	"github.com/ghuser/notifyhub/pkg/httpx"
	"github.com/ghuser/notifyhub/services/notification/application/fanout"
)

// StatusHandler handles GET /notifications/status requests.
type StatusHandler struct {
	svc *fanout.Service
}

// NewStatusHandler returns a StatusHandler backed by the fan-out engine.
func NewStatusHandler(svc *fanout.Service) *StatusHandler {
	return &StatusHandler{svc: svc}
}

// Execute reports this instance's fan-out state.
//
//	@Summary		Instance status
//	@Description	Active streams, connected recipients, pending batched envelopes and broker health.
//	@Tags			notifications
//	@Produce		json
//	@Success		200	{object}	fanout.Status
//	@Router			/notifications/status [get]
func (h *StatusHandler) Execute(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, h.svc.Status())
}

// PresenceReader looks up which instances hold streams for a recipient.
type PresenceReader interface {
	Instances(ctx context.Context, recipient string) ([]string, error)
}

// PresenceResponse lists the instances streaming to a recipient.
type PresenceResponse struct {
	Recipient        string   `json:"recipient"        example:"alice"`
	Instances        []string `json:"instances"        example:"notifyhub-7d9f8-abcde"`
	LocalConnections int      `json:"localConnections" example:"2"`
	ReplayLength     int      `json:"replayLength"     example:"17"`
} // @name PresenceResponse

// PresenceHandler handles GET /notifications/presence/{recipient} requests.
type PresenceHandler struct {
	svc *fanout.Service
	dir PresenceReader
}

// NewPresenceHandler returns a PresenceHandler. dir may be nil, in which
// case only this instance's view is reported.
func NewPresenceHandler(svc *fanout.Service, dir PresenceReader) *PresenceHandler {
	return &PresenceHandler{svc: svc, dir: dir}
}

// Execute reports where recipient is connected.
//
//	@Summary		Recipient presence
//	@Description	Instances that recently announced open streams for the recipient, plus this instance's local view.
//	@Tags			notifications
//	@Produce		json
//	@Security		BearerAuth
//	@Param			recipient	path		string	true	"Recipient identity"
//	@Success		200			{object}	PresenceResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/notifications/presence/{recipient} [get]
func (h *PresenceHandler) Execute(w http.ResponseWriter, r *http.Request) {
	recipient := chi.URLParam(r, "recipient")
	resp := PresenceResponse{
		Recipient:        recipient,
		Instances:        []string{},
		LocalConnections: h.svc.ConnectionCount(recipient),
		ReplayLength:     h.svc.ReplayLen(recipient),
	}
	if h.dir != nil {
		instances, err := h.dir.Instances(r.Context(), recipient)
		if err != nil {
			errhttp.WriteError(w, err)
			return
		}
		if instances != nil {
			resp.Instances = instances
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}
