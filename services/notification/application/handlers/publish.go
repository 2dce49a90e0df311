package handlers

import (
	"net/http"

	"github.com/ghuser/notifyhub/pkg/auth"
	"github.com/ghuser/notifyhub/pkg/errhttp"
	"github.com/ghuser/notifyhub/pkg/httpx"
	pkgvalidator "github.com/ghuser/notifyhub/pkg/validator"
	"github.com/ghuser/notifyhub/services/notification/application/fanout"
	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

// PublishRequest is the request body for POST /notifications.
type PublishRequest struct {
	ID                 string `json:"id"                 validate:"omitempty,max=128,printascii" example:"0192f5c4-6f1e-7c3a-9d2b-5e8f1a2b3c4d"`
	Type               string `json:"type"               validate:"required,eventtype,max=64" example:"ITEM_ASSIGNED"`
	Message            string `json:"message"            validate:"max=4096" example:"You were assigned \"Write docs\""`
	SubjectID          string `json:"subjectId"          validate:"max=255" example:"42"`
	SubjectLabel       string `json:"subjectLabel"       validate:"max=255" example:"Write docs"`
	Recipient          string `json:"recipient"          validate:"notblank,max=255" example:"bob"`
	OriginatorIdentity string `json:"originatorIdentity" validate:"max=255" example:"alice"`
	TargetIdentity     string `json:"targetIdentity"     validate:"max=255" example:"bob"`
} // @name PublishRequest

// PublishResponse is returned once the envelope is accepted.
type PublishResponse struct {
	ID        string `json:"id"        example:"0192f5c4-6f1e-7c3a-9d2b-5e8f1a2b3c4d"`
	Recipient string `json:"recipient" example:"bob"`
	Timestamp string `json:"timestamp" example:"2024-01-15T10:30:00"`
} // @name PublishResponse

// ErrorResponse is returned on all error responses.
type ErrorResponse struct {
	Error string `json:"error" example:"recipient is required"`
} // @name ErrorResponse

// PublishHandler handles POST /notifications requests.
type PublishHandler struct {
	svc *fanout.Service
}

// NewPublishHandler returns a PublishHandler backed by the fan-out engine.
func NewPublishHandler(svc *fanout.Service) *PublishHandler {
	return &PublishHandler{svc: svc}
}

// Execute publishes an envelope to the recipient's streams across the cluster.
//
//	@Summary		Publish notification
//	@Description	Accepts an envelope for cluster-wide delivery. Requires a service token with the
//	@Description	notifications:publish scope; recipient tokens are rejected with 403. The
//	@Description	originator defaults to the token subject. A broker outage does not fail the
//	@Description	request; the envelope is still delivered to streams on this instance.
//	@Description	Item lifecycle types: ITEM_CREATED, ITEM_ASSIGNED, ITEM_UPDATED, ITEM_STATUS_UPDATED,
//	@Description	ITEM_REASSIGNED, ITEM_DELETED. Status changes use ITEM_STATUS_UPDATED, not
//	@Description	ITEM_UPDATED; clients matching on type should accept both.
//	@Tags			notifications
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		PublishRequest	true	"Envelope to publish"
//	@Success		202		{object}	PublishResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Router			/notifications [post]
func (h *PublishHandler) Execute(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.IdentityFromCtx(r.Context())
	if err != nil {
		errhttp.WriteError(w, err)
		return
	}
	if !caller.HasScope(auth.ScopePublish) {
		errhttp.WriteError(w, auth.ErrForbidden)
		return
	}

	req, ok := pkgvalidator.ValidateRequest[PublishRequest](w, r)
	if !ok {
		return
	}

	env := models.NewEnvelope(models.EventType(req.Type), req.Recipient, req.Message)
	if req.ID != "" {
		env.ID = req.ID
	}
	env.SubjectID = req.SubjectID
	env.SubjectLabel = req.SubjectLabel
	env.OriginatorIdentity = req.OriginatorIdentity
	env.TargetIdentity = req.TargetIdentity
	if env.OriginatorIdentity == "" {
		env.OriginatorIdentity = caller.Subject
	}

	if err := h.svc.Publish(r.Context(), env); err != nil {
		errhttp.WriteError(w, err)
		return
	}

	httpx.JSON(w, http.StatusAccepted, PublishResponse{
		ID:        env.ID,
		Recipient: env.Recipient,
		Timestamp: env.Timestamp.Format(models.TimestampLayout),
	})
}
