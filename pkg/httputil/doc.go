// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, validation, and common HTTP middleware patterns.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, "Operation completed")
//	httputil.WriteCreated(w, resource)
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteUnauthorized(w, "Token expired")
//	httputil.WriteForbidden(w, "Insufficient permissions")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req UpdateRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Query parameters:
//
//	workerKey := httputil.ParseQueryString(r, "worker_key", "")
//
// # Validation
//
//	if !httputil.RequireNonEmpty(w, workerKey, "worker_key") {
//		return // Error response already written
//	}
//
// # Middleware
//
//	handler = httputil.MaxBytesMiddleware(1024*1024)(handler) // 1MB
//	handler = httputil.ContentTypeMiddleware(handler)
//	handler = httputil.RecoveryMiddleware(handler)
//	handler = httputil.LoggingMiddleware(handler)
//
// # Related Packages
//
//   - pkg/middleware: Authentication and authorization middleware
package httputil
