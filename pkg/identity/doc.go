// Package identity supplies the acting user for audit entries.
//
// The audit trail never authenticates anyone. It asks a Provider for the
// current Actor and stamps the entry with whatever comes back; missing
// fields become the "anonymous" sentinel.
//
// # Providers
//
//   - Static: a fixed actor, for CLIs and batch jobs
//   - ContextProvider: the actor placed on the context by Middleware,
//     falling back to another provider when none is present
//
// # HTTP
//
// Middleware copies the X-User-ID and X-User-Role headers (set by an
// authenticating proxy in front of the service) into the request context:
//
//	router.Use(identity.NewMiddleware().Handler)
package identity
