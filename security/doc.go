// Package security holds the cross-cutting protections used by the HTTP layer.
//
// # Rate Limiting
//
// RateLimiter keeps one golang.org/x/time/rate token bucket per identifier (usually
// the client IP) with LRU eviction once MaxEntries identifiers are tracked. The
// same type backs both the general per-IP limiter and the client registration
// limiter:
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	registrations := security.NewClientRegistrationRateLimiter(10, logger) // 10/hour
//	defer registrations.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // 429
//	}
//
// # Auditing
//
// Auditor writes "security_audit" log records for flow milestones and failures.
// Tokens never appear in audit records; a 16 hex digit SHA-256 prefix is logged instead.
//
// # Registration Access Token
//
// RegistrationTokenVerifier keeps only a bcrypt hash of the initial access token
// that gates dynamic client registration.
//
// # HTTP Helpers
//
// ProxyPolicy.ClientIP honours X-Forwarded-For and X-Real-IP only when proxies
// are trusted, and reports X-Forwarded-For headers it cannot use.
// RequestIDMiddleware assigns UUID request IDs. SetSecurityHeaders and
// CORSMiddleware set response headers.
package security
