package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/serroba/collab-core/internal/presence"
)

const (
	headerUserID   = "X-User-Id"
	headerUserName = "X-User-Name"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// IdentityResolver maps a request's credentials to a collaborative user.
// Deployments plug in their own; the default reads trusted proxy headers.
type IdentityResolver interface {
	Resolve(r *http.Request) (presence.User, error)
}

// HeaderIdentity resolves identity from X-User-Id and X-User-Name headers,
// set by an authenticating reverse proxy in front of this service.
type HeaderIdentity struct{}

// Resolve implements IdentityResolver.
func (HeaderIdentity) Resolve(r *http.Request) (presence.User, error) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		return presence.User{}, ErrUnauthenticated
	}

	name := r.Header.Get(headerUserName)
	if name == "" {
		name = userID
	}

	return presence.NewUser(userID, name), nil
}

type contextKey int

const userContextKey contextKey = iota

func withUser(ctx context.Context, user presence.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the authenticated user stored by the middleware.
func UserFromContext(ctx context.Context) (presence.User, bool) {
	user, ok := ctx.Value(userContextKey).(presence.User)

	return user, ok
}

// authMiddleware resolves the caller's identity and adds it to the request
// context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.identity.Resolve(r)
		if err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}
