package auth

import (
	"net/http"
	"strings"

	"github.com/ghuser/notifyhub/pkg/httpx"
	"github.com/ghuser/notifyhub/pkg/logger"
)

// TokenQueryParam carries the token for clients that cannot set headers,
// such as the browser EventSource API.
const TokenQueryParam = "token"

// Verifier resolves a raw token to a caller identity.
type Verifier interface {
	Verify(raw string) (Identity, error)
}

// RequireAuth is a chi middleware that enforces bearer-token authentication.
// The token is read from the Authorization header, falling back to the
// token query parameter. The verified recipient is injected into the
// request context; a missing or invalid token yields 401.
//
// After this middleware, handlers can safely call auth.RecipientFromCtx(r.Context()).
func RequireAuth(v Verifier, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFromRequest(r)
			if raw == "" {
				httpx.JSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			id, err := v.Verify(raw)
			if err != nil {
				log.WarnContext(r.Context(), "rejected token", "error", err)
				httpx.JSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects callers whose token lacks scope with 403. It must run
// after RequireAuth.
func RequireScope(scope string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := IdentityFromCtx(r.Context())
			if err != nil {
				httpx.JSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !id.HasScope(scope) {
				log.WarnContext(r.Context(), "caller lacks scope", "subject", id.Subject, "scope", scope)
				httpx.JSONError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get(TokenQueryParam)
}
