package audit

import (
	"net/http"
)

// Middleware makes a Recorder available to downstream handlers through
// FromContext, so domain handlers can record mutations without holding a
// *Trail.
type Middleware struct {
	recorder Recorder
}

// NewMiddleware creates a new audit middleware
func NewMiddleware(recorder Recorder) *Middleware {
	return &Middleware{recorder: recorder}
}

// Handler wraps an HTTP handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.recorder == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := WithRecorder(r.Context(), m.recorder)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
