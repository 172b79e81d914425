package server

import (
	"log/slog"
	"time"

	"github.com/giantswarm/employee-mcp-server/internal/util"
	"github.com/giantswarm/employee-mcp-server/security"
	"github.com/giantswarm/employee-mcp-server/storage"
)

// Scopes understood by the employee directory
const (
	ScopeRead  = "mcp:read"
	ScopeTools = "mcp:tools"
)

// Config holds OAuth server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL), e.g. http://localhost:10000
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// DefaultScopes are granted when an authorization request carries no scope.
	// Default: mcp:read mcp:tools
	DefaultScopes []string

	// SupportedScopes lists the scopes clients may request and that discovery advertises.
	// Default: mcp:read mcp:tools
	SupportedScopes []string

	// AllowPublicClientRegistration allows unauthenticated dynamic client registration
	AllowPublicClientRegistration bool

	// RegistrationAccessToken, when set, must be presented as a Bearer token to /register.
	// Only its bcrypt hash is retained after New.
	RegistrationAccessToken string

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this server
	TrustedProxyCount int // default: 1

	// MaxClientsPerIP limits client registrations per IP address per hour
	MaxClientsPerIP int // default: 10

	// AllowedOrigins restricts CORS. Empty allows any origin.
	AllowedOrigins []string

	// StaticClients are registered when the server is created
	StaticClients []*storage.Client

	// Clock is the time source for issuance and expiry. Default: time.Now
	Clock func() time.Time
}

// AuthorizationEndpoint returns the full URL of the authorization endpoint
func (c *Config) AuthorizationEndpoint() string {
	return c.endpoint("/authorize")
}

// TokenEndpoint returns the full URL of the token endpoint
func (c *Config) TokenEndpoint() string {
	return c.endpoint("/token")
}

// RegistrationEndpoint returns the full URL of the client registration endpoint
func (c *Config) RegistrationEndpoint() string {
	return c.endpoint("/register")
}

// ProtectedResourceMetadataEndpoint returns the RFC 9728 metadata URL
func (c *Config) ProtectedResourceMetadataEndpoint() string {
	return c.endpoint("/.well-known/oauth-protected-resource")
}

// ProxyPolicy returns how client addresses are derived from forwarding headers
func (c *Config) ProxyPolicy() security.ProxyPolicy {
	return security.ProxyPolicy{TrustProxy: c.TrustProxy, Hops: c.TrustedProxyCount}
}

func (c *Config) endpoint(path string) string {
	return util.NormalizeURL(c.Issuer) + path
}

// applySecureDefaults fills in defaults and logs warnings for risky settings
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	config.Issuer = util.NormalizeURL(config.Issuer)

	if len(config.SupportedScopes) == 0 {
		config.SupportedScopes = []string{ScopeRead, ScopeTools}
	}
	if len(config.DefaultScopes) == 0 {
		config.DefaultScopes = []string{ScopeRead, ScopeTools}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	logSecurityWarnings(config, logger)
	return config
}

func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.MaxClientsPerIP == 0 {
		config.MaxClientsPerIP = 10
	}
}

func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.TrustProxy {
		logger.Warn("SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"trusted_proxy_count", config.TrustedProxyCount)
	}
	if config.AllowPublicClientRegistration {
		logger.Warn("SECURITY WARNING: Public client registration is ENABLED",
			"risk", "Unbounded client registration",
			"mitigation", "per-IP registration limit",
			"max_clients_per_ip", config.MaxClientsPerIP)
	}
	if !config.AllowPublicClientRegistration && config.RegistrationAccessToken == "" {
		logger.Info("Dynamic client registration disabled",
			"reason", "neither AllowPublicClientRegistration nor RegistrationAccessToken is set")
	}
}
