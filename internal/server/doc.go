// Package server provides HTTP routing, middleware, and the handlers for the
// gateway's authentication surface.
//
// # Routing
//
// Routes are registered on a chi router. [Middleware] wraps handlers in the
// standard Go pattern; the session gate, CORS, request logging, rate
// limiting, and metrics collection are all middleware in this package.
//
// # Session layer
//
// [SessionManager] wraps a gorilla/sessions cookie store. A session carries
// two values: the subject (the external ID of the authenticated user) and a
// server-generated session ID. The session ID keys the per-session
// credential store so one session can never read another's tokens.
//
// # Authentication flow
//
//	GET /auth/spotify          → plant CSRF state, redirect to the provider
//	GET /auth/spotify/callback → verify state, exchange code, reconcile user,
//	                             establish session, stash the token pair
//	GET /auth/token            → (gated) the caller's own access/refresh pair
//	GET /refresh_token         → exchange a caller-supplied refresh token
//	GET /login                 → (gated) authentication status
//	GET /logout                → destroy session and its credentials
//
// Provider and store failures never reach the browser verbatim: callback
// failures redirect to the configured failure location, gate denials return
// a structured 404 body, and refresh failures return an explicit 502.
package server

import "net/http"

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler
