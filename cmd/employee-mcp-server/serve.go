package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"

	"github.com/spf13/cobra"

	oauth "github.com/giantswarm/employee-mcp-server"
	"github.com/giantswarm/employee-mcp-server/instrumentation"
	"github.com/giantswarm/employee-mcp-server/internal/app"
	"github.com/giantswarm/employee-mcp-server/internal/client"
	"github.com/giantswarm/employee-mcp-server/internal/util"
	"github.com/giantswarm/employee-mcp-server/server"
	"github.com/giantswarm/employee-mcp-server/storage"
)

const (
	defaultPort = 10000

	defaultClientID   = "default-client"
	defaultClientName = "Default MCP Client"

	// connectorRedirectURI is the callback used by hosted MCP connectors
	connectorRedirectURI = "https://api.anthropic.com/v1/mcp/callback"
)

type serveOptions struct {
	port    int
	baseURL string

	logLevel  string
	logFormat string

	metrics bool
	audit   bool
	noAuth  bool

	publicRegistration bool
	registrationToken  string
	maxClientsPerIP    int
	defaultClient      bool
	redirectURIs       []string

	rateLimit      int
	trustProxy     bool
	allowedOrigins []string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the employee directory MCP server",
		Long: `Start the employee directory MCP server.

The server exposes the MCP SSE transport at /sse and /message, the OAuth
endpoints (/authorize, /token, /register and the .well-known metadata
documents), /health and, with --metrics, /metrics.

PORT, BASE_URL and REGISTRATION_TOKEN are read from the environment when the
corresponding flags are not given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.ErrOrStderr(), opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.port, "port", envInt("PORT", defaultPort), "Port to listen on (env PORT)")
	f.StringVar(&opts.baseURL, "base-url", envString("BASE_URL", ""), "Public base URL and OAuth issuer (env BASE_URL, default http://localhost:<port>)")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	f.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	f.BoolVar(&opts.metrics, "metrics", false, "Enable OpenTelemetry instrumentation and serve Prometheus metrics at /metrics")
	f.BoolVar(&opts.audit, "audit", true, "Emit security audit log records")
	f.BoolVar(&opts.noAuth, "no-auth", false, "Serve the MCP endpoints without bearer token validation (development only)")
	f.BoolVar(&opts.publicRegistration, "public-registration", true, "Allow dynamic client registration without a registration token")
	f.StringVar(&opts.registrationToken, "registration-token", envString("REGISTRATION_TOKEN", ""), "Bearer token required for client registration (env REGISTRATION_TOKEN)")
	f.IntVar(&opts.maxClientsPerIP, "max-clients-per-ip", 10, "Client registrations allowed per IP and hour")
	f.BoolVar(&opts.defaultClient, "default-client", true, "Register the static public client \""+defaultClientID+"\"")
	f.StringSliceVar(&opts.redirectURIs, "redirect-uri", nil, "Additional redirect URI for the default client (repeatable)")
	f.IntVar(&opts.rateLimit, "rate-limit", 0, "Requests per second allowed per IP on the OAuth endpoints (0 disables)")
	f.BoolVar(&opts.trustProxy, "trust-proxy", false, "Derive client IPs from X-Forwarded-For")
	f.StringSliceVar(&opts.allowedOrigins, "allowed-origin", nil, "Origin allowed to make CORS requests (repeatable)")

	return cmd
}

func runServe(ctx context.Context, logOutput io.Writer, opts serveOptions) error {
	logger, err := newLogger(opts.logLevel, opts.logFormat, logOutput)
	if err != nil {
		return err
	}

	cfg, err := opts.appConfig(logger)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// appConfig translates the flags into an app.Config
func (o serveOptions) appConfig(logger *slog.Logger) (app.Config, error) {
	if o.port <= 0 || o.port > 65535 {
		return app.Config{}, fmt.Errorf("invalid port %d", o.port)
	}
	if o.rateLimit < 0 {
		return app.Config{}, fmt.Errorf("rate limit must not be negative")
	}

	baseURL := o.baseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", o.port)
	}
	baseURL = util.NormalizeURL(baseURL)
	if err := checkAbsoluteURL(baseURL); err != nil {
		return app.Config{}, fmt.Errorf("invalid base URL: %w", err)
	}

	cfg := app.Config{
		Addr:    fmt.Sprintf(":%d", o.port),
		Version: rootCmd.Version,
		NoAuth:  o.noAuth,
		OAuth: oauth.Config{
			Server: server.Config{
				Issuer:                        baseURL,
				AllowPublicClientRegistration: o.publicRegistration,
				RegistrationAccessToken:       o.registrationToken,
				MaxClientsPerIP:               o.maxClientsPerIP,
				TrustProxy:                    o.trustProxy,
				AllowedOrigins:                o.allowedOrigins,
			},
			RateLimit:          oauth.RateLimitConfig{Rate: o.rateLimit},
			Instrumentation:    instrumentation.Config{Enabled: o.metrics, ServiceVersion: rootCmd.Version},
			EnableAuditLogging: o.audit,
			Logger:             logger,
		},
		Logger: logger,
	}

	if o.defaultClient {
		c, err := newDefaultClient(o.redirectURIs)
		if err != nil {
			return app.Config{}, err
		}
		cfg.OAuth.Server.StaticClients = []*storage.Client{c}
	}

	return cfg, nil
}

// newDefaultClient describes the bootstrap public client. Its redirect URIs are
// the CLI callback, the hosted connector callback, and extra.
func newDefaultClient(extra []string) (*storage.Client, error) {
	uris := []string{client.DefaultRedirectURI, connectorRedirectURI}
	for _, uri := range extra {
		if err := checkAbsoluteURL(uri); err != nil {
			return nil, fmt.Errorf("invalid redirect URI %q: %w", uri, err)
		}
		if !slices.Contains(uris, uri) {
			uris = append(uris, uri)
		}
	}

	return &storage.Client{
		ClientID:                defaultClientID,
		ClientName:              defaultClientName,
		RedirectURIs:            uris,
		GrantTypes:              []string{server.GrantTypeAuthorizationCode, server.GrantTypeRefreshToken},
		ResponseTypes:           []string{server.ResponseTypeCode},
		TokenEndpointAuthMethod: server.TokenEndpointAuthMethodNone,
	}, nil
}

func checkAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	if u.Fragment != "" {
		return fmt.Errorf("must not contain a fragment")
	}
	return nil
}
