package security

// Event type constants for security audit logging.
const (
	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationAutoApproved is logged for every authorization request that
	// is approved without an interactive consent step
	EventAuthorizationAutoApproved = "authorization_auto_approved"

	// EventAuthorizationCodeReuseDetected is logged when a used code is presented again
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// Token lifecycle events

	// EventTokenIssued is logged when an access/refresh token pair is issued for a code
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is rotated via a refresh token
	EventTokenRefreshed = "token_refreshed"

	// Client registration events

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// EventClientRegistrationRejected is logged when registration is refused
	EventClientRegistrationRejected = "client_registration_rejected"

	// Security violation events

	// EventAuthFailure is logged when a request fails client, grant or bearer checks
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventPKCEValidationFailed is logged when the code_verifier does not match the challenge
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventPKCEMissing is logged when an authorization request omits PKCE
	EventPKCEMissing = "pkce_missing"

	// EventInvalidRedirect is logged when an unregistered redirect URI is used
	EventInvalidRedirect = "invalid_redirect"

	// EventForwardedForRejected is logged when a trusted-proxy deployment receives
	// an X-Forwarded-For header whose client entry is not an IP address
	EventForwardedForRejected = "forwarded_for_rejected"
)
