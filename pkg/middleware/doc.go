// Package middleware provides HTTP middleware for identity resolution,
// request tagging, and rate limiting.
//
// # Overview
//
// This package implements request processing middleware: trusted-header
// user identity (with per-request scope memoization), request id
// assignment, and token-bucket rate limiting.
//
// # Middleware Components
//
// UserIdentity: header-based identity resolution
//
//	identity := middleware.NewUserIdentity(accessStore, resolver)
//	router.Use(identity.Handler)
//	// Validates X-User-ID, memoizes the user's scope on the context
//
// RequestID: per-request id assignment
//
//	router.Use(middleware.RequestID)
//
// RateLimitMiddleware: in-memory rate limiting
//
//	router.Use(middleware.NewRateLimitMiddleware().Handler)
//
// # Rate Limiting
//
// Default (Anonymous): 100 req/min, 10 burst
// Per-User: 1000 req/min, 50 burst
//
// # Related Packages
//
//   - pkg/access: scope resolution the identity middleware seeds
//   - pkg/contextkeys: context keys set by these middlewares
package middleware
