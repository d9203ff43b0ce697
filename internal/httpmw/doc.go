// Package httpmw provides HTTP middleware for the archive server.
//
// Middleware is composed in a specific order in httpserver.NewHandler:
// request ID, client IP extraction, rate limiting, OTEL tracing,
// metrics, structured logging, panic recovery, and chi router.
//
// Each middleware is an independent function that can be tested,
// reordered, or removed individually. Member names requested by
// clients do appear in logs; they are object store paths, not user
// data.
package httpmw
