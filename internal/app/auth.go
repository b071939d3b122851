package app

import (
	"context"
	"net/http"
	"strings"
)

// Authenticator resolves the calling user for a request. ok=false means
// the request carries no usable identity and must be rejected before any
// streaming starts.
type Authenticator interface {
	CurrentUserID(r *http.Request) (id string, ok bool)
}

// HeaderAuth identifies the caller by a request header. The zero value
// reads X-User-ID.
type HeaderAuth struct {
	Header string
}

func (h HeaderAuth) CurrentUserID(r *http.Request) (string, bool) {
	name := h.Header
	if name == "" {
		name = "X-User-ID"
	}
	id := strings.TrimSpace(r.Header.Get(name))
	return id, id != ""
}

var _ Authenticator = HeaderAuth{}

type contextKey string

const userIDKey contextKey = "user_id"

func withUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext returns the authenticated user id set by requireUser.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// requireUser rejects unauthenticated requests with 401 and stores the
// resolved user id in the request context for handlers.
func requireUser(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.CurrentUserID(r)
			if !ok {
				respondError(w, "authentication required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), id)))
		})
	}
}
