package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/giantswarm/employee-mcp-server/internal/util"
)

// Protocol constants
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"

	ResponseTypeCode = "code"

	TokenEndpointAuthMethodNone = "none"

	PKCEMethodS256 = "S256"

	TokenTypeBearer = "Bearer"

	// ClientTypePublic is the only client type this server registers
	ClientTypePublic = "public"
)

// SupportedGrantTypes lists the grant types accepted at the token endpoint
var SupportedGrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}

// DangerousSchemes lists URI schemes that are never accepted as redirect URIs
var DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// S256Challenge computes base64url(SHA-256(verifier)) without padding (RFC 7636)
func S256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// validatePKCE checks verifier against an S256 challenge in constant time
func validatePKCE(challenge, verifier string) error {
	if challenge == "" {
		return fmt.Errorf("no code_challenge stored for this code")
	}
	computed := S256Challenge(verifier)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}

// validateScopes checks that every requested scope is supported
func (s *Server) validateScopes(scope string) error {
	for _, reqScope := range strings.Fields(scope) {
		if !slices.Contains(s.Config.SupportedScopes, reqScope) {
			return fmt.Errorf("unsupported scope: %s", reqScope)
		}
	}
	return nil
}

// validateRedirectURIForRegistration checks a redirect URI submitted for registration:
// absolute, no fragment, and not a script-capable scheme.
func (s *Server) validateRedirectURIForRegistration(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}
	if !parsed.IsAbs() {
		return fmt.Errorf("redirect_uri must be an absolute URI")
	}
	if parsed.Fragment != "" || strings.Contains(redirectURI, "#") {
		return fmt.Errorf("redirect_uri must not contain fragments")
	}

	scheme := strings.ToLower(parsed.Scheme)
	if slices.Contains(DangerousSchemes, scheme) {
		return fmt.Errorf("redirect_uri scheme '%s' is not allowed", parsed.Scheme)
	}

	if (scheme == "http" || scheme == "https") && parsed.Host == "" {
		return fmt.Errorf("redirect_uri must include a host")
	}

	if scheme == "http" && !util.IsLoopbackHostname(parsed.Hostname()) {
		s.Logger.Warn("Redirect URI uses plain HTTP on a non-loopback host",
			"redirect_uri", redirectURI,
			"recommendation", "use https or a loopback address")
	}

	return nil
}

// buildRedirectURL appends code and, if non-empty, state to redirectURI,
// keeping any query parameters that were registered with it.
func buildRedirectURL(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect_uri: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
