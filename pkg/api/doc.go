// Package api provides the HTTP REST API server for the Tally resourcing
// backend.
//
// # Overview
//
// This package exposes the versioned-entity store, scope authorization,
// and allocation validation as RESTful endpoints. Every mutating request
// carries the caller's expected entity version; stale writes come back as
// conflicts with the winner's current state so clients can reconcile.
//
// # Architecture
//
// The API is built on gorilla/mux and organized into two handler groups:
//
//   - Entity handlers: uniform CRUD over the thirteen entity collections,
//     authorization and version checking delegated to the service facade
//   - Allocation handlers: capacity validation (single and batch), the
//     per-project breakdown of a worker's day, and the over-allocation
//     range report
//
// # Key Types
//
// Server is the main API server:
//
//	server := api.NewServer(api.ServerConfig{Service: svc, ...})
//	http.ListenAndServe(":8080", server.Handler())
//
// UpdateRequest is the wire shape of a versioned update:
//
//	{ "expected_version": 3, "changes": { "name": "renamed" } }
//
// # Error Mapping
//
// Domain errors map onto HTTP statuses without losing their payloads:
//
//   - version conflict     -> 409, body carries the winner's current state
//   - access denied        -> 403 (404 for malformed ids)
//   - not found            -> 404
//   - capacity exceeded    -> 422, body carries totals and excess
//   - validation failure   -> 400
//   - delete with children -> 409
package api
