package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/employee-mcp-server/storage"
)

// MockClock provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new mock clock starting at t
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the current mock time
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateRandomString generates a random base64url string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid S256 challenge and verifier pair.
// Returns (challenge, verifier).
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// GenerateTestClient creates a public test client with a single redirect URI
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:                "test-client-id",
		RedirectURIs:            []string{"http://localhost:3000/callback"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		ClientName:              "Test Client",
		IssuedAt:                time.Now(),
	}
}

// GenerateTestAuthorizationCode creates an unused code for the test client,
// expiring ten minutes after now.
func GenerateTestAuthorizationCode(now time.Time) *storage.AuthorizationCode {
	challenge, _ := GeneratePKCEPair()
	return &storage.AuthorizationCode{
		Code:                GenerateRandomString(43),
		ClientID:            "test-client-id",
		RedirectURI:         "http://localhost:3000/callback",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		Scope:               "mcp:read mcp:tools",
		CreatedAt:           now,
		ExpiresAt:           now.Add(10 * time.Minute),
	}
}

// GenerateTestTokenPair creates an access token valid for one hour after now
// and a refresh token linked to it.
func GenerateTestTokenPair(now time.Time) (*storage.AccessToken, *storage.RefreshToken) {
	access := &storage.AccessToken{
		Token:     GenerateRandomString(43),
		ClientID:  "test-client-id",
		Scope:     "mcp:read mcp:tools",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
	refresh := &storage.RefreshToken{
		Token:       GenerateRandomString(43),
		AccessToken: access.Token,
		ClientID:    access.ClientID,
		Scope:       access.Scope,
		IssuedAt:    now,
	}
	return access, refresh
}
