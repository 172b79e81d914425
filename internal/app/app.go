// Package app assembles the employee directory MCP server: the OAuth endpoints,
// the bearer-protected MCP SSE transport, health and metrics.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	oauth "github.com/giantswarm/employee-mcp-server"
	"github.com/giantswarm/employee-mcp-server/internal/directory"
	"github.com/giantswarm/employee-mcp-server/internal/mcptools"
	"github.com/giantswarm/employee-mcp-server/security"
	"github.com/giantswarm/employee-mcp-server/storage/memory"
)

const (
	// HealthPath answers liveness probes
	HealthPath = "/health"
	// MetricsPath serves Prometheus metrics when instrumentation is enabled
	MetricsPath = "/metrics"
	// SSEPath opens the MCP event stream
	SSEPath = "/sse"
	// MessagePath receives MCP JSON-RPC messages for an SSE session
	MessagePath = "/message"

	defaultShutdownTimeout = 10 * time.Second
	sseKeepAliveInterval   = 30 * time.Second
)

// Config configures an App
type Config struct {
	// Addr is the listen address, e.g. ":10000"
	Addr string

	// Version is reported to MCP clients and in metrics
	Version string

	// NoAuth serves the MCP endpoints without bearer token validation
	NoAuth bool

	// OAuth configures the embedded authorization server. OAuth.Server.Issuer is
	// also the public base URL of the MCP endpoints.
	OAuth oauth.Config

	// Directory is the employee directory to serve. Default: seeded directory.
	Directory *directory.Directory

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// App is a fully wired server. Create it with New and start it with Run.
type App struct {
	config Config
	logger *slog.Logger

	store       *memory.Store
	oauthServer *oauth.Server
	oauthHTTP   *oauth.Handler
	directory   *directory.Directory
	sse         *mcpserver.SSEServer

	handler http.Handler
}

// New wires an App from cfg
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OAuth.Server.Issuer == "" {
		return nil, fmt.Errorf("issuer (base URL) is required")
	}
	if cfg.OAuth.Logger == nil {
		cfg.OAuth.Logger = logger
	}
	if cfg.OAuth.Instrumentation.ServiceVersion == "" {
		cfg.OAuth.Instrumentation.ServiceVersion = cfg.Version
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	store := memory.New()
	store.SetLogger(logger)
	if cfg.OAuth.Server.Clock != nil {
		store.SetClock(cfg.OAuth.Server.Clock)
	}

	oauthServer, err := oauth.NewServer(store, &cfg.OAuth)
	if err != nil {
		store.Stop()
		return nil, fmt.Errorf("failed to create OAuth server: %w", err)
	}

	dir := cfg.Directory
	if dir == nil {
		dir = directory.New()
	}

	tools := mcptools.New(dir, logger, oauthServer.Instrumentation)
	sse := mcpserver.NewSSEServer(
		mcptools.NewMCPServer(cfg.Version, tools),
		mcpserver.WithBaseURL(oauthServer.Config.Issuer),
		mcpserver.WithSSEEndpoint(SSEPath),
		mcpserver.WithMessageEndpoint(MessagePath),
		mcpserver.WithKeepAlive(true),
		mcpserver.WithKeepAliveInterval(sseKeepAliveInterval),
		mcpserver.WithSSEContextFunc(forwardGrant),
	)

	a := &App{
		config:      cfg,
		logger:      logger,
		store:       store,
		oauthServer: oauthServer,
		oauthHTTP:   oauth.NewHandler(oauthServer, logger),
		directory:   dir,
		sse:         sse,
	}
	a.handler = a.routes()

	return a, nil
}

// Handler returns the root HTTP handler
func (a *App) Handler() http.Handler {
	return a.handler
}

// OAuthServer returns the embedded authorization server
func (a *App) OAuthServer() *oauth.Server {
	return a.oauthServer
}

// Directory returns the served employee directory
func (a *App) Directory() *directory.Directory {
	return a.directory
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	a.oauthHTTP.RegisterRoutes(mux)

	mux.HandleFunc(HealthPath, serveHealth)
	if a.config.OAuth.Instrumentation.Enabled {
		mux.Handle(MetricsPath, a.oauthServer.Instrumentation.MetricsHandler())
	}

	sseHandler := a.sse.SSEHandler()
	messageHandler := a.sse.MessageHandler()
	if a.config.NoAuth {
		a.logger.Warn("SECURITY WARNING: MCP endpoints are served without authentication")
	} else {
		sseHandler = a.oauthHTTP.ValidateToken(sseHandler)
		messageHandler = a.oauthHTTP.ValidateToken(messageHandler)
	}
	mux.Handle(SSEPath, sseHandler)
	mux.Handle(MessagePath, messageHandler)

	return security.RequestIDMiddleware(
		security.CORSMiddleware(a.oauthServer.Config.AllowedOrigins, mux),
	)
}

// Run serves on cfg.Addr until ctx is canceled, then shuts down gracefully
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.config.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	// Request contexts derive from baseCtx so that open SSE streams end on shutdown
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Handler:           a.handler,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// no WriteTimeout: SSE streams stay open
	}
	srv.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Employee MCP server listening",
			"addr", ln.Addr().String(),
			"issuer", a.oauthServer.Config.Issuer,
			"sse_endpoint", a.oauthServer.Config.Issuer+SSEPath,
			"auth", !a.config.NoAuth)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		a.closeBackground(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	a.closeBackground(shutdownCtx)
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Close releases background resources of an App that was never served
func (a *App) Close(ctx context.Context) {
	a.closeBackground(ctx)
}

func (a *App) closeBackground(ctx context.Context) {
	a.store.Stop()
	if err := a.oauthServer.Shutdown(ctx); err != nil {
		a.logger.Warn("Error shutting down OAuth server", "error", err)
	}
}

func serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// forwardGrant carries the grant attached by the bearer middleware into the
// context MCP tool handlers run with.
func forwardGrant(ctx context.Context, r *http.Request) context.Context {
	if grant, ok := oauth.GrantFromContext(r.Context()); ok {
		return oauth.ContextWithGrant(ctx, grant)
	}
	return ctx
}
