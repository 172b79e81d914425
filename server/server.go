package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	"github.com/giantswarm/employee-mcp-server/instrumentation"
	"github.com/giantswarm/employee-mcp-server/security"
	"github.com/giantswarm/employee-mcp-server/storage"
)

// Server implements the authorization server state machine on top of the
// client, code and token stores.
type Server struct {
	clientStore storage.ClientStore
	codeStore   storage.CodeStore
	tokenStore  storage.TokenStore

	registrationToken *security.RegistrationTokenVerifier

	Auditor                       *security.Auditor
	RateLimiter                   *security.RateLimiter // IP-based limiter for the OAuth endpoints
	ClientRegistrationRateLimiter *security.RateLimiter // per-IP cap on /register
	Instrumentation               *instrumentation.Instrumentation
	Logger                        *slog.Logger
	Config                        *Config

	tracer trace.Tracer
}

// clockSetter is implemented by stores whose expiry decisions use a replaceable clock
type clockSetter interface {
	SetClock(func() time.Time)
}

// New creates a new OAuth server and registers Config.StaticClients
func New(
	clientStore storage.ClientStore,
	codeStore storage.CodeStore,
	tokenStore storage.TokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if codeStore == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	verifier, err := security.NewRegistrationTokenVerifier(config.RegistrationAccessToken)
	if err != nil {
		return nil, err
	}
	config.RegistrationAccessToken = ""

	srv := &Server{
		clientStore:       clientStore,
		codeStore:         codeStore,
		tokenStore:        tokenStore,
		registrationToken: verifier,
		Config:            config,
		Logger:            logger,
		tracer:            noop.NewTracerProvider().Tracer(""),
	}
	srv.SetClock(config.Clock)

	for _, client := range config.StaticClients {
		if err := srv.saveStaticClient(client); err != nil {
			return nil, err
		}
	}

	return srv, nil
}

func (s *Server) saveStaticClient(client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("static client requires a client ID")
	}
	c := *client
	if c.IssuedAt.IsZero() {
		c.IssuedAt = s.now()
	}
	if len(c.GrantTypes) == 0 {
		c.GrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}
	if len(c.ResponseTypes) == 0 {
		c.ResponseTypes = []string{ResponseTypeCode}
	}
	if c.TokenEndpointAuthMethod == "" {
		c.TokenEndpointAuthMethod = TokenEndpointAuthMethodNone
	}

	err := s.clientStore.SaveClient(context.Background(), &c)
	if errors.Is(err, storage.ErrClientExists) {
		s.Logger.Debug("Static client already registered", "client_id", c.ClientID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to register static client %q: %w", c.ClientID, err)
	}

	s.Logger.Info("Registered static client", "client_id", c.ClientID, "client_name", c.ClientName)
	return nil
}

// SetClock replaces the time source on the server and on every store that accepts one
func (s *Server) SetClock(clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	s.Config.Clock = clock

	for _, store := range []any{s.clientStore, s.codeStore, s.tokenStore} {
		if setter, ok := store.(clockSetter); ok {
			setter.SetClock(clock)
		}
	}
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter for the OAuth endpoints
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetClientRegistrationRateLimiter sets the per-IP registration limiter
func (s *Server) SetClientRegistrationRateLimiter(rl *security.RateLimiter) {
	s.ClientRegistrationRateLimiter = rl
}

// Shutdown stops background goroutines owned by the server and flushes instrumentation
func (s *Server) Shutdown(ctx context.Context) error {
	if s.RateLimiter != nil {
		s.RateLimiter.Stop()
	}
	if s.ClientRegistrationRateLimiter != nil {
		s.ClientRegistrationRateLimiter.Stop()
	}
	if s.Instrumentation != nil {
		if err := s.Instrumentation.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down instrumentation: %w", err)
		}
	}
	return nil
}

// SetInstrumentation sets the OpenTelemetry instrumentation
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	} else {
		s.tracer = noop.NewTracerProvider().Tracer("")
	}
}

// RegistrationEnabled reports whether /register accepts requests at all
func (s *Server) RegistrationEnabled() bool {
	return s.Config.AllowPublicClientRegistration || s.registrationToken.Configured()
}

// RegistrationTokenRequired reports whether /register requires a Bearer token
func (s *Server) RegistrationTokenRequired() bool {
	return s.registrationToken.Configured()
}

// VerifyRegistrationToken checks a presented registration access token
func (s *Server) VerifyRegistrationToken(presented string) error {
	return s.registrationToken.Verify(presented)
}

func (s *Server) now() time.Time {
	return s.Config.Clock()
}

func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name)
}

// generateRandomToken generates a cryptographically secure random token.
// oauth2.GenerateVerifier yields 32 random bytes, base64url encoded.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
