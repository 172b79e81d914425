// Package security provides rate limiting, audit logging, request correlation
// and secure header management for the authorization server.
package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/employee-mcp-server/instrumentation"
)

// Auditor handles security event logging. Credentials are never logged; where an
// event concerns a specific token, only a short hash of it is recorded.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	metrics *instrumentation.Metrics
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// SetInstrumentation makes the auditor count every logged event
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		a.metrics = nil
		return
	}
	a.metrics = inst.Metrics()
}

// Event represents a security audit event
type Event struct {
	Type      string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event. A nil Auditor discards everything.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)

	if a.metrics != nil {
		a.metrics.RecordAuditEvent(context.Background(), event.Type)
	}
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeIssued,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogAutoApproved logs an authorization request approved without consent
func (a *Auditor) LogAutoApproved(clientID, ipAddress, redirectURI, scope string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationAutoApproved,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"redirect_uri": redirectURI,
			"scope":        scope,
		},
	})
}

// LogTokenIssued logs when a token pair is issued
func (a *Auditor) LogTokenIssued(clientID, ipAddress, scope, accessToken string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope":      scope,
			"token_hash": hashForLogging(accessToken),
		},
	})
}

// LogTokenRefreshed logs when an access token is rotated
func (a *Auditor) LogTokenRefreshed(clientID, ipAddress, refreshToken string) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"refresh_token_hash": hashForLogging(refreshToken),
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogCodeReuse logs a redemption attempt for an already used code
func (a *Auditor) LogCodeReuse(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeReuseDetected,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogPKCEFailure logs a code_verifier that does not match the stored challenge
func (a *Auditor) LogPKCEFailure(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventPKCEValidationFailed,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogPKCEMissing logs an authorization request without a usable S256 challenge
func (a *Auditor) LogPKCEMissing(clientID, ipAddress, method string) {
	a.LogEvent(Event{
		Type:      EventPKCEMissing,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"code_challenge_method": method,
		},
	})
}

// LogInvalidRedirect logs a redirect URI that is not registered for the client
func (a *Auditor) LogInvalidRedirect(clientID, ipAddress, redirectURI string) {
	a.LogEvent(Event{
		Type:      EventInvalidRedirect,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"redirect_uri": redirectURI,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, limiterType string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"limiter_type": limiterType,
		},
	})
}

// LogClientRegistered logs when a new client is registered
func (a *Auditor) LogClientRegistered(clientID, clientType, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"client_type": clientType,
		},
	})
}

// LogClientRegistrationRejected logs a refused registration request
func (a *Auditor) LogClientRegistrationRejected(ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventClientRegistrationRejected,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogForwardedForRejected logs an unusable X-Forwarded-For header. The request is
// attributed to peerIP; the header itself is recorded only as a hash.
func (a *Auditor) LogForwardedForRejected(peerIP, forwardedFor string) {
	a.LogEvent(Event{
		Type:      EventForwardedForRejected,
		IPAddress: peerIP,
		Details: map[string]any{
			"forwarded_for_hash": hashForLogging(forwardedFor),
		},
	})
}

// hashForLogging creates a short SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
