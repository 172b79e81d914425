package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrRegistrationTokenMismatch is returned when a presented registration access
// token does not match the configured one.
var ErrRegistrationTokenMismatch = errors.New("registration access token mismatch")

// RegistrationTokenVerifier checks the initial access token required for dynamic
// client registration. Only a bcrypt hash of the token is kept in memory.
type RegistrationTokenVerifier struct {
	hash []byte
}

// NewRegistrationTokenVerifier hashes token with bcrypt's default cost.
// An empty token yields a verifier that rejects everything.
func NewRegistrationTokenVerifier(token string) (*RegistrationTokenVerifier, error) {
	if token == "" {
		return &RegistrationTokenVerifier{}, nil
	}
	// bcrypt only considers the first 72 bytes
	if len(token) > 72 {
		return nil, fmt.Errorf("registration access token must be at most 72 bytes, got %d", len(token))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash registration access token: %w", err)
	}
	return &RegistrationTokenVerifier{hash: hash}, nil
}

// Configured reports whether a registration token was set
func (v *RegistrationTokenVerifier) Configured() bool {
	return v != nil && len(v.hash) > 0
}

// Verify returns nil if presented matches the configured token
func (v *RegistrationTokenVerifier) Verify(presented string) error {
	if !v.Configured() || presented == "" {
		return ErrRegistrationTokenMismatch
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(presented)); err != nil {
		return ErrRegistrationTokenMismatch
	}
	return nil
}
