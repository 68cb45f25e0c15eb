package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActor_Normalize(t *testing.T) {
	tests := []struct {
		name  string
		actor Actor
		want  Actor
	}{
		{name: "empty", actor: Actor{}, want: Actor{UserID: Anonymous, Role: Anonymous}},
		{name: "role only", actor: Actor{Role: "auditor"}, want: Actor{UserID: Anonymous, Role: "auditor"}},
		{name: "whitespace", actor: Actor{UserID: "  ", Role: " admin "}, want: Actor{UserID: Anonymous, Role: "admin"}},
		{name: "complete", actor: Actor{UserID: "u-1", Role: "admin"}, want: Actor{UserID: "u-1", Role: "admin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.actor.Normalize())
		})
	}
}

func TestActor_IsAnonymous(t *testing.T) {
	assert.True(t, Actor{}.IsAnonymous())
	assert.True(t, Actor{UserID: Anonymous}.IsAnonymous())
	assert.False(t, Actor{Role: "viewer"}.IsAnonymous())
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, Actor{UserID: Anonymous, Role: Anonymous}, Resolve(ctx, nil))
	assert.Equal(t, Actor{UserID: "cli", Role: "admin"}, Resolve(ctx, Static{UserID: "cli", Role: "admin"}))

	fn := ProviderFunc(func(context.Context) Actor { return Actor{Role: "rssi"} })
	assert.Equal(t, Actor{UserID: Anonymous, Role: "rssi"}, Resolve(ctx, fn))
}

func TestContextProvider(t *testing.T) {
	fallback := Static{UserID: "system", Role: "scheduler"}
	p := ContextProvider{Fallback: fallback}

	t.Run("uses context actor", func(t *testing.T) {
		ctx := WithActor(context.Background(), Actor{UserID: "u-7", Role: "auditor"})
		assert.Equal(t, Actor{UserID: "u-7", Role: "auditor"}, p.Current(ctx))
	})

	t.Run("falls back", func(t *testing.T) {
		assert.Equal(t, Actor(fallback), p.Current(context.Background()))
	})

	t.Run("no fallback", func(t *testing.T) {
		assert.Equal(t, Actor{}, ContextProvider{}.Current(context.Background()))
	})
}

func TestMiddleware(t *testing.T) {
	var got Actor
	var found bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = FromContext(r.Context())
	})

	t.Run("headers present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/audit/entries", nil)
		req.Header.Set("X-User-ID", "u-42")
		req.Header.Set("X-User-Role", "admin")

		NewMiddleware().Handler(next).ServeHTTP(httptest.NewRecorder(), req)

		require.True(t, found)
		assert.Equal(t, Actor{UserID: "u-42", Role: "admin"}, got)
	})

	t.Run("headers absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/audit/entries", nil)

		NewMiddleware().Handler(next).ServeHTTP(httptest.NewRecorder(), req)

		assert.False(t, found)
	})

	t.Run("custom headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-User", "alice")

		NewMiddleware().WithHeaders("X-Forwarded-User", "").Handler(next).ServeHTTP(httptest.NewRecorder(), req)

		require.True(t, found)
		assert.Equal(t, "alice", got.UserID)
		assert.Empty(t, got.Role)
	})
}
