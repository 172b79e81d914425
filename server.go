package oauth

import (
	"fmt"
	"log/slog"

	"github.com/giantswarm/employee-mcp-server/instrumentation"
	"github.com/giantswarm/employee-mcp-server/security"
	"github.com/giantswarm/employee-mcp-server/server"
	"github.com/giantswarm/employee-mcp-server/storage"
)

// Server is the authorization server the Handler adapts to HTTP
type Server = server.Server

// Store is the storage backend a Server needs. memory.Store implements it.
type Store interface {
	storage.ClientStore
	storage.CodeStore
	storage.TokenStore
}

// instrumentedStore is implemented by stores that report metrics and spans
type instrumentedStore interface {
	SetInstrumentation(*instrumentation.Instrumentation)
}

// NewServer assembles a Server from cfg: the protocol core on top of store, plus the
// auditor, rate limiters and instrumentation around it. Call Shutdown when done.
func NewServer(store Store, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serverConfig := cfg.Server
	srv, err := server.New(store, store, store, &serverConfig, logger)
	if err != nil {
		return nil, err
	}

	inst, err := instrumentation.New(cfg.Instrumentation)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	srv.SetInstrumentation(inst)
	if s, ok := store.(instrumentedStore); ok {
		s.SetInstrumentation(inst)
	}

	auditor := security.NewAuditor(logger, cfg.EnableAuditLogging)
	auditor.SetInstrumentation(inst)
	srv.SetAuditor(auditor)

	if cfg.RateLimit.Rate > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 2 * cfg.RateLimit.Rate
		}
		srv.SetRateLimiter(security.NewRateLimiter(cfg.RateLimit.Rate, burst, logger))
		logger.Info("Rate limiting enabled", "rate", cfg.RateLimit.Rate, "burst", burst)
	}

	if srv.RegistrationEnabled() && srv.Config.MaxClientsPerIP > 0 {
		srv.SetClientRegistrationRateLimiter(security.NewClientRegistrationRateLimiter(srv.Config.MaxClientsPerIP, logger))
	}

	return srv, nil
}
