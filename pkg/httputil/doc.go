// Package httputil holds the JSON request and response helpers and the
// HTTP middleware shared by the audit API.
//
// # Responses
//
//	httputil.WriteSuccess(w, entries)
//	httputil.WriteCreated(w, resp)
//	httputil.WriteBadRequest(w, "invalid limit")
//
// Error bodies have the shape {"error": "...", "requestId": "..."}; the
// request ID is present when RequestIDMiddleware ran.
//
// # Request Parsing
//
//	var req CreateEntryRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
//	id, ok := httputil.ParsePathStringOrError(w, r, "id")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
