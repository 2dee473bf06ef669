package handlers

import (
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/homebitez/api/internal/platform/auth"
	"github.com/homebitez/api/internal/platform/httpx"
	"github.com/homebitez/api/internal/platform/requestctx"
	"github.com/homebitez/api/internal/services"
)

const (
	// SessionHeader carries the browser session id of guest checkouts.
	SessionHeader = "X-Session-ID"

	guestSessionPrefix = "ses_"
	maxSessionIDLength = 64
)

// SessionMiddleware resolves the checkout session key for the request. Signed-in customers
// always use their uid; guests present X-Session-ID and receive a fresh id when they have none.
// Must run after the Firebase middleware so the identity is visible.
func SessionMiddleware(newID func() string) func(http.Handler) http.Handler {
	if newID == nil {
		newID = func() string { return guestSessionPrefix + strings.ToLower(ulid.Make().String()) }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if identity, ok := auth.IdentityFromContext(ctx); ok && strings.TrimSpace(identity.UID) != "" {
				ctx = requestctx.WithSessionKey(ctx, services.UserSessionKey(identity.UID))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			sessionID := strings.TrimSpace(r.Header.Get(SessionHeader))
			if sessionID == "" {
				sessionID = newID()
			} else if !validSessionID(sessionID) {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_session", "session id is malformed", http.StatusBadRequest))
				return
			}
			w.Header().Set(SessionHeader, sessionID)
			ctx = requestctx.WithSessionKey(ctx, services.GuestSessionKey(sessionID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validSessionID(id string) bool {
	if len(id) == 0 || len(id) > maxSessionIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
