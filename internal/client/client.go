// Package client logs in to an employee directory MCP server: it discovers the
// authorization server, registers a public client when needed, runs the
// authorization-code flow with PKCE, and refreshes tokens.
//
// The server approves authorization requests without user interaction, so the
// flow completes headlessly: the authorization redirect is read instead of
// followed.
package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	oauth "github.com/giantswarm/employee-mcp-server"
)

const (
	// DefaultRedirectURI is the callback registered for CLI logins
	DefaultRedirectURI = "http://localhost:3000/callback"

	defaultClientName  = "employee-mcp-server CLI"
	defaultHTTPTimeout = 30 * time.Second
	maxResponseSize    = 1 << 20
)

// Config configures a Client
type Config struct {
	// ServerURL is the issuer / base URL of the server
	ServerURL string

	// ClientID of an existing client. When empty, Login registers a new one.
	ClientID string

	// RedirectURI must be registered for the client. Default: DefaultRedirectURI.
	RedirectURI string

	// Scopes to request. Empty requests the server's default scopes.
	Scopes []string

	// RegistrationToken is sent as a Bearer token to the registration endpoint
	RegistrationToken string

	// ClientName is sent with dynamic registration
	ClientName string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Session is the result of a successful login
type Session struct {
	ClientID string
	Scope    string
	Token    *oauth2.Token
}

// Client talks to the OAuth endpoints of one server
type Client struct {
	config Config
	http   *http.Client
	logger *slog.Logger

	metadata *oauth.AuthorizationServerMetadata
}

// New creates a Client
func New(cfg Config) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if _, err := url.Parse(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = DefaultRedirectURI
	}
	if cfg.ClientName == "" {
		cfg.ClientName = defaultClientName
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{config: cfg, http: httpClient, logger: logger}, nil
}

// Discover fetches and caches the authorization server metadata
func (c *Client) Discover(ctx context.Context) (*oauth.AuthorizationServerMetadata, error) {
	if c.metadata != nil {
		return c.metadata, nil
	}

	endpoint := strings.TrimRight(c.config.ServerURL, "/") + oauth.AuthorizationServerMetadataPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}

	var md oauth.AuthorizationServerMetadata
	if err := c.doJSON(req, http.StatusOK, &md); err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	if md.AuthorizationEndpoint == "" || md.TokenEndpoint == "" {
		return nil, fmt.Errorf("discovery document lacks authorization or token endpoint")
	}

	c.metadata = &md
	return c.metadata, nil
}

// Register performs dynamic client registration and returns the new client ID
func (c *Client) Register(ctx context.Context) (string, error) {
	md, err := c.Discover(ctx)
	if err != nil {
		return "", err
	}
	if md.RegistrationEndpoint == "" {
		return "", fmt.Errorf("server does not offer dynamic client registration")
	}

	body, err := json.Marshal(map[string]any{
		"client_name":                c.config.ClientName,
		"redirect_uris":              []string{c.config.RedirectURI},
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"token_endpoint_auth_method": "none",
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, md.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.RegistrationToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.RegistrationToken)
	}

	var info struct {
		ClientID string `json:"client_id"`
	}
	if err := c.doJSON(req, http.StatusCreated, &info); err != nil {
		return "", fmt.Errorf("client registration failed: %w", err)
	}
	if info.ClientID == "" {
		return "", fmt.Errorf("registration response lacks client_id")
	}

	c.logger.Debug("Registered OAuth client", "client_id", info.ClientID)
	return info.ClientID, nil
}

// Login runs the full authorization-code flow with PKCE
func (c *Client) Login(ctx context.Context) (*Session, error) {
	clientID := c.config.ClientID
	if clientID == "" {
		var err error
		if clientID, err = c.Register(ctx); err != nil {
			return nil, err
		}
	}

	conf, err := c.oauth2Config(ctx, clientID)
	if err != nil {
		return nil, err
	}

	state, err := randomState()
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	code, err := c.authorize(ctx, conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), state)
	if err != nil {
		return nil, err
	}

	token, err := conf.Exchange(c.oauth2Context(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	c.logger.Debug("Login complete", "client_id", clientID, "expires", token.Expiry)
	return &Session{ClientID: clientID, Scope: tokenScope(token), Token: token}, nil
}

// Refresh exchanges refreshToken for a new access token
func (c *Client) Refresh(ctx context.Context, clientID, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}

	conf, err := c.oauth2Config(ctx, clientID)
	if err != nil {
		return nil, err
	}

	token, err := conf.TokenSource(c.oauth2Context(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return token, nil
}

func (c *Client) oauth2Config(ctx context.Context, clientID string) (*oauth2.Config, error) {
	md, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: c.config.RedirectURI,
		Scopes:      c.config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   md.AuthorizationEndpoint,
			TokenURL:  md.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

// oauth2Context makes x/oauth2 use the configured HTTP client
func (c *Client) oauth2Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// authorize requests authURL and returns the code from the redirect it answers with
func (c *Client) authorize(ctx context.Context, authURL, state string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create authorization request: %w", err)
	}

	noRedirect := *c.http
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		return "", fmt.Errorf("authorization request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusSeeOther {
		return "", fmt.Errorf("authorization request failed: %w", readOAuthError(resp))
	}

	location, err := resp.Location()
	if err != nil {
		return "", fmt.Errorf("authorization response without redirect: %w", err)
	}
	query := location.Query()
	if e := query.Get("error"); e != "" {
		return "", &OAuthError{Code: e, Description: query.Get("error_description"), Status: resp.StatusCode}
	}
	if query.Get("state") != state {
		return "", fmt.Errorf("authorization response state mismatch")
	}
	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("authorization response lacks code")
	}
	return code, nil
}

func (c *Client) doJSON(req *http.Request, wantStatus int, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != wantStatus {
		return readOAuthError(resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("invalid response body: %w", err)
	}
	return nil
}

// OAuthError is an error response from the server
type OAuthError struct {
	Status      int
	Code        string
	Description string
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Description, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Code, e.Status)
}

func readOAuthError(resp *http.Response) error {
	var body oauth.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return &OAuthError{Status: resp.StatusCode, Code: body.Error, Description: body.ErrorDescription}
}

// IsOAuthError reports whether err is an OAuthError with the given code
func IsOAuthError(err error, code string) bool {
	var oe *OAuthError
	return errors.As(err, &oe) && oe.Code == code
}

func tokenScope(token *oauth2.Token) string {
	scope, _ := token.Extra("scope").(string)
	return scope
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
