// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteSuccess(w, view)
//	httputil.WriteCreated(w, article)
//
// Error responses all share the {"error": "..."} body shape:
//
//	httputil.WriteValidationError(w, "title", "title is required")
//	httputil.WriteDenied(w, "access restricted", decision.Guidance())
//	httputil.WriteNotFound(w, "article not found")
//	httputil.WriteInternalError(w)
//
// WriteInternalError never echoes the underlying error; callers log it first.
//
// # Request Parsing
//
// DecodeAndValidate parses a JSON body and runs go-playground/validator
// struct tags, reporting the first failing field by its JSON name:
//
//	var req CreateArticleRequest
//	if !httputil.DecodeAndValidate(w, r, &req) {
//		return // response already written
//	}
//
// Path parameters holding UUIDs:
//
//	id, ok := httputil.PathUUIDOrError(w, r, "id")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(11<<20),
//	)
package httputil
