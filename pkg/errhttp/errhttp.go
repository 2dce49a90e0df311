// Package errhttp maps domain sentinel errors to HTTP status codes.
// Add a case to mapErrorToStatus for each new domain sentinel error.
package errhttp

import (
	"errors"
	"net/http"

	"github.com/ghuser/notifyhub/pkg/auth"
	"github.com/ghuser/notifyhub/pkg/httpx"
	notifdomain "github.com/ghuser/notifyhub/services/notification/domain"
)

// WriteError maps err to an HTTP status code and writes a JSON error response.
// Uses errors.Is() so wrapped sentinel errors are matched correctly.
// Defaults to 500 Internal Server Error for unrecognized errors.
func WriteError(w http.ResponseWriter, err error) {
	httpx.JSONError(w, mapErrorToStatus(err), err.Error())
}

func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, notifdomain.ErrMissingRecipient),
		errors.Is(err, notifdomain.ErrMissingID),
		errors.Is(err, notifdomain.ErrMissingType),
		errors.Is(err, notifdomain.ErrMalformedEnvelope):
		return http.StatusBadRequest // 400
	case errors.Is(err, auth.ErrRecipientNotFound),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized // 401
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden // 403
	case errors.Is(err, notifdomain.ErrBrokerUnavailable):
		return http.StatusServiceUnavailable // 503
	case errors.Is(err, notifdomain.ErrStreamingUnsupported):
		return http.StatusNotImplemented // 501
	default:
		return http.StatusInternalServerError // 500
	}
}
