// Package storage defines interfaces for persisting OAuth clients, authorization codes and tokens.
// Implementations must make the read-modify-write operations atomic per key.
package storage

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

// Sentinel errors returned by storage implementations. Callers should use errors.Is.
var (
	ErrClientNotFound            = errors.New("client not found")
	ErrClientExists              = errors.New("client already exists")
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	ErrAuthorizationCodeUsed     = errors.New("authorization code already used")
	ErrAuthorizationCodeExpired  = errors.New("authorization code expired")
	ErrTokenNotFound             = errors.New("token not found")
	ErrTokenExpired              = errors.New("token expired")
)

// ClientStore defines the interface for managing OAuth client registrations.
// Clients are immutable once saved and are never deleted.
type ClientStore interface {
	// SaveClient saves a registered client. Returns ErrClientExists if the ID is taken.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)
}

// CodeStore defines the interface for managing issued authorization codes.
type CodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code without changing it.
	// NOTE: use RedeemAuthorizationCode for the actual exchange.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// RedeemAuthorizationCode atomically looks the code up, rejects it when it is
	// unknown, used or expired, runs check against a copy and, only if check
	// returns nil, marks the code used. The returned code is a copy.
	//
	// SECURITY: only ONE concurrent caller can redeem a given code.
	RedeemAuthorizationCode(ctx context.Context, code string, check func(*AuthorizationCode) error) (*AuthorizationCode, error)
}

// TokenStore defines the interface for managing issued access and refresh tokens.
type TokenStore interface {
	// SaveTokenPair stores a new access token together with the refresh token linked to it.
	SaveTokenPair(ctx context.Context, access *AccessToken, refresh *RefreshToken) error

	// GetAccessToken retrieves an access token. Expired tokens yield ErrTokenExpired.
	// The token is never modified or evicted by this call.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// GetRefreshToken retrieves a refresh token
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// RotateAccessToken atomically replaces the access token linked to refreshToken:
	// next builds the new access token from the refresh token, the previously linked
	// access token is deleted, the new one stored, and the link re-pointed.
	//
	// SECURITY: This operation MUST be atomic to prevent lost updates between
	// concurrent refreshes of the same refresh token.
	RotateAccessToken(ctx context.Context, refreshToken string, next func(*RefreshToken) *AccessToken) (*AccessToken, error)
}

// Client represents a registered OAuth client.
// Only public clients (no secret, PKCE-only) are supported.
type Client struct {
	ClientID                string
	ClientSecret            string // always empty; public client
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	ClientName              string

	// Metadata holds the registration request as submitted, for verbatim echo.
	Metadata map[string]any

	IssuedAt time.Time
}

// IsPublic reports whether the client authenticates without a secret.
func (c *Client) IsPublic() bool {
	return c.ClientSecret == ""
}

// HasRedirectURI reports whether uri exactly matches one of the registered redirect URIs.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// AuthorizationCode represents an issued authorization code.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
}

// Expired reports whether the code is no longer redeemable at now.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// AccessToken represents an issued bearer token.
type AccessToken struct {
	Token     string
	ClientID  string
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the token is accepted at now (now < ExpiresAt).
func (t *AccessToken) Valid(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// Scopes returns the space-separated scope as a slice.
func (t *AccessToken) Scopes() []string {
	return strings.Fields(t.Scope)
}

// HasScope reports whether scope was granted.
func (t *AccessToken) HasScope(scope string) bool {
	return slices.Contains(t.Scopes(), scope)
}

// RefreshToken represents a long-lived refresh token. It never expires and stays
// valid across rotations; AccessToken names the access token it currently renews.
type RefreshToken struct {
	Token       string
	AccessToken string
	ClientID    string
	Scope       string
	IssuedAt    time.Time
}
