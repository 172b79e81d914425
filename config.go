package oauth

import (
	"log/slog"

	"github.com/giantswarm/employee-mcp-server/instrumentation"
	"github.com/giantswarm/employee-mcp-server/server"
)

// Config holds everything NewServer needs to assemble an authorization server.
// Structured using composition; the protocol settings live in server.Config.
type Config struct {
	// Server holds issuer, TTLs, scopes, registration policy and static clients
	Server server.Config

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Instrumentation configures OpenTelemetry metrics and tracing.
	// Instrumentation.Enabled false keeps no-op providers.
	Instrumentation instrumentation.Config

	// EnableAuditLogging enables security audit logging.
	// Tokens are never logged; where an event concerns one, a short hash is used.
	EnableAuditLogging bool

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP on the OAuth endpoints.
	// Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP. Defaults to twice Rate.
	Burst int
}
