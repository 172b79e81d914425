package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/giantswarm/employee-mcp-server/instrumentation"
	"github.com/giantswarm/employee-mcp-server/internal/util"
	"github.com/giantswarm/employee-mcp-server/storage"
)

// logPrefixLength is how much of a code or token may appear in logs
const logPrefixLength = 8

// AuthorizationRequest holds the query parameters of an authorization request
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Authorize validates an authorization request and, on success, issues an
// authorization code and returns the URL to redirect the user agent to.
//
// Validation order is fixed: client, redirect URI, PKCE, response type, scope.
// Nothing is stored unless every check passes. The request is approved without
// a consent step; each approval is audited.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest, clientIP string) (string, error) {
	ctx, span := s.startSpan(ctx, "server.authorize")
	defer span.End()

	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, req.Scope)
	instrumentation.AddPKCEAttributes(span, req.CodeChallengeMethod)

	client, err := s.GetClient(ctx, req.ClientID)
	if err != nil {
		s.Auditor.LogAuthFailure(req.ClientID, clientIP, "unknown_client")
		instrumentation.SetSpanError(span, "unknown client")
		return "", err
	}

	if !client.HasRedirectURI(req.RedirectURI) {
		s.Auditor.LogInvalidRedirect(client.ClientID, clientIP, req.RedirectURI)
		instrumentation.SetSpanError(span, "redirect_uri not registered")
		return "", ErrInvalidRedirectURI("redirect_uri is not registered for this client")
	}

	if req.CodeChallenge == "" || req.CodeChallengeMethod != PKCEMethodS256 {
		s.Auditor.LogPKCEMissing(client.ClientID, clientIP, req.CodeChallengeMethod)
		instrumentation.SetSpanError(span, "PKCE required")
		return "", ErrInvalidRequest("PKCE required")
	}

	if req.ResponseType != "" && req.ResponseType != ResponseTypeCode {
		instrumentation.SetSpanError(span, "unsupported response_type")
		return "", ErrUnsupportedResponseType(fmt.Sprintf("response_type %q is not supported", req.ResponseType))
	}

	scope := strings.Join(strings.Fields(req.Scope), " ")
	if scope == "" {
		scope = strings.Join(s.Config.DefaultScopes, " ")
	}
	if err := s.validateScopes(scope); err != nil {
		instrumentation.SetSpanError(span, "invalid scope")
		return "", ErrInvalidScope(err.Error())
	}

	now := s.now()
	authCode := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Scope:               scope,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}

	redirectURL, err := buildRedirectURL(req.RedirectURI, authCode.Code, req.State)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", ErrInvalidRedirectURI("redirect_uri is malformed")
	}

	if err := s.codeStore.SaveAuthorizationCode(ctx, authCode); err != nil {
		instrumentation.RecordError(span, err)
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.Auditor.LogAutoApproved(client.ClientID, clientIP, req.RedirectURI, scope)
	s.Auditor.LogCodeIssued(client.ClientID, clientIP, scope)
	if m := s.metrics(); m != nil {
		m.RecordCodeIssued(ctx, client.ClientID)
	}

	s.Logger.Info("Authorization request auto-approved",
		"client_id", client.ClientID,
		"scope", scope,
		"code_prefix", util.SafeTruncate(authCode.Code, logPrefixLength))

	instrumentation.SetSpanSuccess(span)
	return redirectURL, nil
}

// ExchangeAuthorizationCode redeems an authorization code for an access token and
// a refresh token. It returns the token and the granted scope.
//
// The code is marked used only after the client, redirect URI and PKCE checks pass,
// all within one critical section of the code store.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier, clientIP string) (*oauth2.Token, string, error) {
	ctx, span := s.startSpan(ctx, "server.exchange_authorization_code")
	defer span.End()

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrGrantType, GrantTypeAuthorizationCode),
		attribute.String(instrumentation.AttrClientID, clientID),
	)

	var pkceFailed bool
	authCode, err := s.codeStore.RedeemAuthorizationCode(ctx, code, func(ac *storage.AuthorizationCode) error {
		if ac.ClientID != clientID {
			return ErrInvalidClient("client_id does not match the authorization code")
		}
		if redirectURI != "" && redirectURI != ac.RedirectURI {
			return ErrInvalidGrant("redirect_uri does not match the authorization request")
		}
		if err := validatePKCE(ac.CodeChallenge, codeVerifier); err != nil {
			pkceFailed = true
			return ErrInvalidGrant("PKCE validation failed")
		}
		return nil
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, "", s.codeExchangeFailure(ctx, err, code, clientID, clientIP, pkceFailed)
	}

	now := s.now()
	access := &storage.AccessToken{
		Token:     generateRandomToken(),
		ClientID:  authCode.ClientID,
		Scope:     authCode.Scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
	}
	refresh := &storage.RefreshToken{
		Token:       generateRandomToken(),
		AccessToken: access.Token,
		ClientID:    authCode.ClientID,
		Scope:       authCode.Scope,
		IssuedAt:    now,
	}

	if err := s.tokenStore.SaveTokenPair(ctx, access, refresh); err != nil {
		instrumentation.RecordError(span, err)
		return nil, "", fmt.Errorf("failed to save token pair: %w", err)
	}

	s.Auditor.LogTokenIssued(authCode.ClientID, clientIP, authCode.Scope, access.Token)
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, authCode.ClientID, authCode.CodeChallengeMethod)
	}

	s.Logger.Info("Authorization code exchanged",
		"client_id", authCode.ClientID,
		"scope", authCode.Scope,
		"token_prefix", util.SafeTruncate(access.Token, logPrefixLength))

	instrumentation.SetSpanSuccess(span)
	return s.oauth2Token(access, refresh.Token), authCode.Scope, nil
}

// codeExchangeFailure audits a failed redemption and maps it to an OAuth error
func (s *Server) codeExchangeFailure(ctx context.Context, err error, code, clientID, clientIP string, pkceFailed bool) error {
	m := s.metrics()

	switch {
	case errors.Is(err, storage.ErrAuthorizationCodeUsed):
		s.Logger.Warn("Authorization code reuse detected",
			"client_id", clientID,
			"code_prefix", util.SafeTruncate(code, logPrefixLength))
		s.Auditor.LogCodeReuse(clientID, clientIP)
		if m != nil {
			m.RecordCodeReuseDetected(ctx)
		}
		return ErrInvalidGrant("Authorization code is invalid, expired or already used")

	case errors.Is(err, storage.ErrAuthorizationCodeNotFound), errors.Is(err, storage.ErrAuthorizationCodeExpired):
		s.Logger.Debug("Authorization code validation failed",
			"reason", err.Error(),
			"client_id", clientID,
			"code_prefix", util.SafeTruncate(code, logPrefixLength))
		s.Auditor.LogAuthFailure(clientID, clientIP, "invalid_authorization_code")
		return ErrInvalidGrant("Authorization code is invalid, expired or already used")

	case pkceFailed:
		s.Auditor.LogPKCEFailure(clientID, clientIP)
		if m != nil {
			m.RecordPKCEValidationFailed(ctx, PKCEMethodS256)
		}
		return err
	}

	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		s.Logger.Debug("Authorization code exchange rejected", "client_id", clientID, "error", err)
		s.Auditor.LogAuthFailure(clientID, clientIP, oauthErr.Code)
		return oauthErr
	}

	return fmt.Errorf("failed to redeem authorization code: %w", err)
}

// RefreshAccessToken issues a new access token for a refresh token. The previously
// linked access token is deleted and the refresh token stays valid. If clientID is
// non-empty it must own the refresh token.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, clientID, clientIP string) (*oauth2.Token, string, error) {
	ctx, span := s.startSpan(ctx, "server.refresh_access_token")
	defer span.End()

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrGrantType, GrantTypeRefreshToken),
		attribute.String(instrumentation.AttrClientID, clientID),
	)

	if clientID != "" {
		rt, err := s.tokenStore.GetRefreshToken(ctx, refreshToken)
		if err == nil && rt.ClientID != clientID {
			s.Auditor.LogAuthFailure(clientID, clientIP, "refresh_token_client_mismatch")
			instrumentation.SetSpanError(span, "client mismatch")
			return nil, "", ErrInvalidGrant("Refresh token is invalid")
		}
	}

	now := s.now()
	access, err := s.tokenStore.RotateAccessToken(ctx, refreshToken, func(rt *storage.RefreshToken) *storage.AccessToken {
		return &storage.AccessToken{
			Token:     generateRandomToken(),
			ClientID:  rt.ClientID,
			Scope:     rt.Scope,
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
		}
	})
	if errors.Is(err, storage.ErrTokenNotFound) {
		s.Logger.Debug("Refresh token validation failed",
			"client_id", clientID,
			"token_prefix", util.SafeTruncate(refreshToken, logPrefixLength))
		s.Auditor.LogAuthFailure(clientID, clientIP, "invalid_refresh_token")
		instrumentation.SetSpanError(span, "unknown refresh token")
		return nil, "", ErrInvalidGrant("Refresh token is invalid")
	}
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, "", fmt.Errorf("failed to rotate access token: %w", err)
	}

	s.Auditor.LogTokenRefreshed(access.ClientID, clientIP, refreshToken)
	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, access.ClientID)
	}

	s.Logger.Info("Access token refreshed",
		"client_id", access.ClientID,
		"token_prefix", util.SafeTruncate(access.Token, logPrefixLength))

	instrumentation.SetSpanSuccess(span)
	return s.oauth2Token(access, ""), access.Scope, nil
}

// ValidateAccessToken returns the grant behind a bearer token. Unknown and expired
// tokens are rejected; nothing is modified.
func (s *Server) ValidateAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	ctx, span := s.startSpan(ctx, "server.validate_access_token")
	defer span.End()

	access, err := s.tokenStore.GetAccessToken(ctx, token)
	if err != nil {
		reason := "unknown"
		switch {
		case errors.Is(err, storage.ErrTokenExpired):
			reason = "expired"
		case errors.Is(err, storage.ErrTokenNotFound):
			reason = "not_found"
		}
		if m := s.metrics(); m != nil {
			m.RecordTokenValidationFailed(ctx, reason)
		}
		instrumentation.SetSpanError(span, reason)
		return nil, ErrInvalidToken("Invalid or expired access token")
	}

	instrumentation.AddOAuthFlowAttributes(span, access.ClientID, access.Scope)
	instrumentation.SetSpanSuccess(span)
	return access, nil
}

func (s *Server) oauth2Token(access *storage.AccessToken, refreshToken string) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  access.Token,
		TokenType:    TokenTypeBearer,
		RefreshToken: refreshToken,
		Expiry:       access.ExpiresAt,
		ExpiresIn:    s.Config.AccessTokenTTL,
	}
}
