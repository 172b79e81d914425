package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	"github.com/giantswarm/employee-mcp-server/instrumentation"
	"github.com/giantswarm/employee-mcp-server/security"
	"github.com/giantswarm/employee-mcp-server/server"
)

// Well-known and endpoint paths served by RegisterRoutes
const (
	AuthorizationServerMetadataPath = "/.well-known/oauth-authorization-server"
	ProtectedResourceMetadataPath   = "/.well-known/oauth-protected-resource"
	AuthorizationPath               = "/authorize"
	TokenPath                       = "/token"
	RegistrationPath                = "/register"
)

const (
	// maxRequestBodySize bounds /token and /register bodies
	maxRequestBodySize = 1 << 20

	rateLimitRetryAfter = "60"
)

// Handler is a thin HTTP adapter for the OAuth Server.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer
	proxy  security.ProxyPolicy
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer(""),
		proxy:  srv.Config.ProxyPolicy(),
	}
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// RegisterRoutes mounts the discovery documents and the OAuth endpoints on mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(AuthorizationServerMetadataPath, h.ServeAuthorizationServerMetadata)
	mux.HandleFunc(ProtectedResourceMetadataPath, h.ServeProtectedResourceMetadata)
	mux.HandleFunc(AuthorizationPath, h.ServeAuthorization)
	mux.HandleFunc(TokenPath, h.ServeToken)
	mux.HandleFunc(RegistrationPath, h.ServeClientRegistration)

	h.logger.Info("Registered OAuth endpoints",
		"issuer", h.server.Config.Issuer,
		"registration_enabled", h.server.RegistrationEnabled())
}

// ServeAuthorizationServerMetadata serves the RFC 8414 discovery document
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	w, done := h.observe(w, "metadata", r.Method)
	defer done()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, h.server.Metadata())
}

// ServeProtectedResourceMetadata serves RFC 9728 Protected Resource Metadata
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w, done := h.observe(w, "resource_metadata", r.Method)
	defer done()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, h.server.ProtectedResourceMetadata())
}

// ServeAuthorization handles OAuth authorization requests. The request is
// auto-approved: on success the user agent is redirected straight back to the
// client with a code. Failures are never redirected.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	w, done := h.observe(w, "authorization", r.Method)
	defer done()

	ctx, span := h.tracer.Start(r.Context(), "oauth.http.authorization")
	defer span.End()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(ctx, w, clientIP) {
		return
	}

	query := r.URL.Query()
	req := &server.AuthorizationRequest{
		ClientID:            query.Get("client_id"),
		RedirectURI:         query.Get("redirect_uri"),
		ResponseType:        query.Get("response_type"),
		Scope:               query.Get("scope"),
		State:               query.Get("state"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrPKCEMethod, req.CodeChallengeMethod),
	)

	redirectURL, err := h.server.Authorize(ctx, req, clientIP)
	if err != nil {
		h.logger.Debug("Authorization request rejected", "client_id", req.ClientID, "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "authorization rejected")
		h.writeOAuthError(w, err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// ServeToken handles the OAuth token endpoint. The body may be form encoded or JSON.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	w, done := h.observe(w, "token", r.Method)
	defer done()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(r.Context(), w, clientIP) {
		return
	}

	params, err := parseTokenRequest(w, r)
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}

	grantType := params.Get("grant_type")
	switch grantType {
	case server.GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r, params, clientIP)
	case server.GrantTypeRefreshToken:
		h.handleRefreshTokenGrant(w, r, params, clientIP)
	default:
		h.writeError(w, ErrorCodeUnsupportedGrantType, fmt.Sprintf("Grant type %q not supported", grantType), http.StatusBadRequest)
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, params url.Values, clientIP string) {
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.token_exchange")
	defer span.End()

	clientID := params.Get("client_id")
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, clientID))

	token, scope, err := h.server.ExchangeAuthorizationCode(ctx,
		params.Get("code"),
		clientID,
		params.Get("redirect_uri"),
		params.Get("code_verifier"),
		clientIP,
	)
	if err != nil {
		h.logger.Warn("Failed to exchange authorization code", "client_id", clientID, "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "code exchange failed")
		h.writeOAuthError(w, err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, token, scope)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, params url.Values, clientIP string) {
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.token_refresh")
	defer span.End()

	clientID := params.Get("client_id")
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, clientID))

	token, scope, err := h.server.RefreshAccessToken(ctx, params.Get("refresh_token"), clientID, clientIP)
	if err != nil {
		h.logger.Warn("Failed to refresh token", "client_id", clientID, "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "token refresh failed")
		h.writeOAuthError(w, err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, token, scope)
}

// parseTokenRequest reads the token request parameters from a form or JSON body
func parseTokenRequest(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		if err := r.ParseForm(); err != nil {
			return nil, ErrInvalidRequest("Failed to parse request body")
		}
		return r.PostForm, nil
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, ErrInvalidRequest("Request body must be a JSON object")
	}

	params := url.Values{}
	for key, value := range body {
		s, ok := value.(string)
		switch {
		case ok:
			params.Set(key, s)
		case slices.Contains(tokenRequestParams, key):
			return nil, ErrInvalidRequest(fmt.Sprintf("Parameter %q must be a string", key))
		}
	}
	return params, nil
}

// tokenRequestParams are the token request parameters the endpoint reads.
// Other JSON members are ignored whatever their type.
var tokenRequestParams = []string{
	"grant_type",
	"code",
	"code_verifier",
	"redirect_uri",
	"client_id",
	"refresh_token",
}

// ServeClientRegistration handles dynamic client registration (RFC 7591)
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	w, done := h.observe(w, "register", r.Method)
	defer done()

	ctx, span := h.tracer.Start(r.Context(), "oauth.http.client_registration")
	defer span.End()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(ctx, w, clientIP) {
		return
	}

	if !h.server.RegistrationEnabled() {
		h.server.Auditor.LogClientRegistrationRejected(clientIP, "registration_disabled")
		instrumentation.SetSpanError(span, "registration disabled")
		h.writeError(w, ErrorCodeAccessDenied, "Dynamic client registration is disabled", http.StatusForbidden)
		return
	}

	if h.server.RegistrationTokenRequired() {
		token, ok := bearerToken(r)
		if !ok || h.server.VerifyRegistrationToken(token) != nil {
			h.logger.Warn("Client registration with missing or invalid registration token", "ip", clientIP)
			h.server.Auditor.LogClientRegistrationRejected(clientIP, "invalid_registration_token")
			instrumentation.SetSpanError(span, "registration token rejected")
			h.writeError(w, ErrorCodeInvalidToken, "Valid registration access token required", http.StatusUnauthorized)
			return
		}
	}

	if rl := h.server.ClientRegistrationRateLimiter; rl != nil && !rl.Allow(clientIP) {
		h.logger.Warn("Client registration limit exceeded",
			"ip", clientIP,
			"max_per_hour", h.server.Config.MaxClientsPerIP)
		h.recordRateLimitExceeded(ctx, "client_registration", clientIP)
		instrumentation.SetSpanError(span, "registration limit exceeded")
		w.Header().Set("Retry-After", rateLimitRetryAfter)
		h.writeError(w, ErrorCodeRateLimitExceeded, "Client registration limit exceeded. Please try again later.", http.StatusTooManyRequests)
		return
	}

	var metadata map[string]any
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&metadata); err != nil || metadata == nil {
		h.server.Auditor.LogClientRegistrationRejected(clientIP, "malformed_json")
		instrumentation.SetSpanError(span, "malformed registration body")
		h.writeError(w, ErrorCodeInvalidClientMetadata, "Registration request must be a JSON object", http.StatusBadRequest)
		return
	}

	client, err := h.server.RegisterClient(ctx, metadata, clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "registration failed")
		h.writeOAuthError(w, err)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrClientType, server.ClientTypePublic),
	)
	instrumentation.SetSpanSuccess(span)
	h.writeJSON(w, http.StatusCreated, server.ClientInformation(client))
}

// clientIP returns the rate-limit and audit key for r. A forwarding header that
// cannot be trusted falls back to the peer address and is audited.
func (h *Handler) clientIP(r *http.Request) string {
	ip, err := h.proxy.ClientIP(r)
	if err != nil {
		h.logger.Debug("Ignoring X-Forwarded-For header", "peer", ip, "error", err)
		h.server.Auditor.LogForwardedForRejected(ip, r.Header.Get("X-Forwarded-For"))
	}
	return ip
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(ctx context.Context, w http.ResponseWriter, clientIP string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP)
	h.recordRateLimitExceeded(ctx, "ip", clientIP)
	w.Header().Set("Retry-After", rateLimitRetryAfter)
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// recordRateLimitExceeded records rate limit metrics and audit events.
func (h *Handler) recordRateLimitExceeded(ctx context.Context, limiterType, clientIP string) {
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(ctx, limiterType)
	}
	h.server.Auditor.LogRateLimitExceeded(clientIP, limiterType)
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *oauth2.Token, scope string) {
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = server.TokenTypeBearer
	}

	expiresIn := token.ExpiresIn
	if expiresIn == 0 && !token.Expiry.IsZero() {
		expiresIn = int64(time.Until(token.Expiry).Seconds())
	}

	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    tokenType,
		ExpiresIn:    expiresIn,
		RefreshToken: token.RefreshToken,
		Scope:        scope,
	})
}

// writeOAuthError writes err as an OAuth error response. Anything that is not an
// *Error is logged and reported as server_error without details.
func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) {
	var oauthErr *Error
	if !errors.As(err, &oauthErr) {
		h.logger.Error("Internal error while handling OAuth request", "error", err)
	}
	oauthErr = server.AsError(err)
	h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(code, description))
	}

	h.writeJSON(w, status, ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// formatWWWAuthenticate builds an RFC 6750 challenge pointing at the protected
// resource metadata. An invalid_request code is left out of the challenge since a
// request without credentials carries no error per RFC 6750 Section 3.1.
func (h *Handler) formatWWWAuthenticate(code, description string) string {
	params := []string{fmt.Sprintf(`resource_metadata="%s"`, h.server.Config.ProtectedResourceMetadataEndpoint())}

	if code != "" && code != ErrorCodeInvalidRequest {
		params = append(params, fmt.Sprintf(`error="%s"`, code))
		if description != "" {
			escaped := strings.ReplaceAll(description, `\`, `\\`)
			escaped = strings.ReplaceAll(escaped, `"`, `\"`)
			params = append(params, fmt.Sprintf(`error_description="%s"`, escaped))
		}
	}

	return "Bearer " + strings.Join(params, ", ")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("Failed to write response body", "error", err)
	}
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// observe wraps w so the final status can be recorded in the HTTP metrics once
// the returned func runs.
func (h *Handler) observe(w http.ResponseWriter, endpoint, method string) (http.ResponseWriter, func()) {
	startTime := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	return rec, func() {
		h.recordHTTPMetrics(endpoint, method, rec.status, startTime)
	}
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000 // milliseconds
	h.server.Instrumentation.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, duration)
}
