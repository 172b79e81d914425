package oauth

import "github.com/giantswarm/employee-mcp-server/server"

// Error is an OAuth error as written to clients
type Error = server.Error

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient           = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidScope            = server.ErrorCodeInvalidScope
	ErrorCodeInvalidToken            = server.ErrorCodeInvalidToken
	ErrorCodeInvalidRedirectURI      = server.ErrorCodeInvalidRedirectURI
	ErrorCodeInvalidClientMetadata   = server.ErrorCodeInvalidClientMetadata
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeAccessDenied            = server.ErrorCodeAccessDenied
	ErrorCodeRateLimitExceeded       = server.ErrorCodeRateLimitExceeded
	ErrorCodeServerError             = server.ErrorCodeServerError
)

// NewError creates a new OAuth error
func NewError(code, description string, status int) *Error {
	return server.NewError(code, description, status)
}

// Common OAuth errors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = server.ErrInvalidRequest

	// ErrInvalidClient indicates the client_id is unknown or does not own the grant
	ErrInvalidClient = server.ErrInvalidClient

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid
	ErrInvalidGrant = server.ErrInvalidGrant

	ErrInvalidScope = server.ErrInvalidScope

	// ErrInvalidToken indicates a missing or rejected bearer token
	ErrInvalidToken = server.ErrInvalidToken

	ErrInvalidRedirectURI      = server.ErrInvalidRedirectURI
	ErrInvalidClientMetadata   = server.ErrInvalidClientMetadata
	ErrUnsupportedGrantType    = server.ErrUnsupportedGrantType
	ErrUnsupportedResponseType = server.ErrUnsupportedResponseType
	ErrAccessDenied            = server.ErrAccessDenied
	ErrRateLimitExceeded       = server.ErrRateLimitExceeded
	ErrServerError             = server.ErrServerError
)
