package identity

import (
	"net/http"
)

// Default headers set by the authenticating proxy
const (
	DefaultUserHeader = "X-User-ID"
	DefaultRoleHeader = "X-User-Role"
)

// Middleware copies the actor headers into the request context
type Middleware struct {
	userHeader string
	roleHeader string
}

// NewMiddleware creates a middleware reading the default headers
func NewMiddleware() *Middleware {
	return &Middleware{
		userHeader: DefaultUserHeader,
		roleHeader: DefaultRoleHeader,
	}
}

// WithHeaders overrides the header names. Empty names keep the current ones.
func (m *Middleware) WithHeaders(userHeader, roleHeader string) *Middleware {
	if userHeader != "" {
		m.userHeader = userHeader
	}
	if roleHeader != "" {
		m.roleHeader = roleHeader
	}
	return m
}

// Handler wraps an HTTP handler. Requests without either header pass
// through untouched so a ContextProvider fallback still applies.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := Actor{
			UserID: r.Header.Get(m.userHeader),
			Role:   r.Header.Get(m.roleHeader),
		}
		if actor.UserID == "" && actor.Role == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := WithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
