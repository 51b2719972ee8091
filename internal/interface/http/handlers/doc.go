// Package handlers contains the reusable parts of the HTTP layer: the
// response envelope, gin middleware, and health checks.
//
// # Health Checks
//
// Checks are registered by name and run in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("postgres", handlers.PingCheck(conn))
//	checker.AddCheck("redis", handlers.PingCheck(redisPinger))
//
//	status := checker.Check(ctx)
//
// # Middleware
//
// Middleware is plain gin.HandlerFunc and is installed by the server in
// this order: Recovery, RequestID, RequestLogger, SecurityHeaders, CORS,
// rate limiting, Timeout. APIKeyAuth guards the write routes only.
//
// # Errors
//
// RespondDomainError maps domain errors onto status codes:
//
//	not found            404
//	validation           400
//	missing grade data   422
//	invalid state        409
//	timeout              504
//	unavailable          503
package handlers
