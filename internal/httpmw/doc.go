// Package httpmw provides HTTP middleware for the rate limit API server.
//
// httpserver.NewHandler composes them outermost first: security headers,
// route context seeding, panic recovery, request ID, client IP, client
// throttling, OTel server span, limit headers, trace response headers,
// metrics and logger injection. Route annotation, access log and body limit
// run inside the chi router.
//
// Sending numbers arrive in the URL path, so loggers and spans get the chi
// route pattern ("/api/ratelimit/check/{phoneNumber}") and never the raw path
// or query string.
package httpmw
