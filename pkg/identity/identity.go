package identity

import (
	"context"
	"strings"

	"github.com/platinummonkey/isotrack/pkg/contextkeys"
)

// Anonymous is recorded when the actor's user ID or role is unknown
const Anonymous = "anonymous"

// Actor identifies who performed an audited action
type Actor struct {
	UserID string `json:"userId"`
	Role   string `json:"userRole"`
}

// Normalize trims both fields and replaces empty ones with Anonymous
func (a Actor) Normalize() Actor {
	a.UserID = strings.TrimSpace(a.UserID)
	a.Role = strings.TrimSpace(a.Role)
	if a.UserID == "" {
		a.UserID = Anonymous
	}
	if a.Role == "" {
		a.Role = Anonymous
	}
	return a
}

// IsAnonymous reports whether neither field carries a real value
func (a Actor) IsAnonymous() bool {
	n := a.Normalize()
	return n.UserID == Anonymous && n.Role == Anonymous
}

// Provider reports the actor performing the current operation
type Provider interface {
	Current(ctx context.Context) Actor
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context) Actor

// Current implements Provider
func (f ProviderFunc) Current(ctx context.Context) Actor {
	return f(ctx)
}

// Static always returns the same actor
type Static Actor

// Current implements Provider
func (s Static) Current(context.Context) Actor {
	return Actor(s)
}

// ContextProvider returns the actor stored on the context, or asks Fallback
// when there is none. A nil Fallback yields the anonymous actor.
type ContextProvider struct {
	Fallback Provider
}

// Current implements Provider
func (p ContextProvider) Current(ctx context.Context) Actor {
	if actor, ok := FromContext(ctx); ok {
		return actor
	}
	if p.Fallback != nil {
		return p.Fallback.Current(ctx)
	}
	return Actor{}
}

// WithActor stores actor on the context
func WithActor(ctx context.Context, actor Actor) context.Context {
	return contextkeys.WithActor(ctx, actor)
}

// FromContext returns the actor stored by WithActor
func FromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(contextkeys.ActorKey).(Actor)
	return actor, ok
}

// Resolve asks p for the current actor and normalizes it. A nil provider
// resolves to the anonymous actor.
func Resolve(ctx context.Context, p Provider) Actor {
	if p == nil {
		return Actor{}.Normalize()
	}
	return p.Current(ctx).Normalize()
}
