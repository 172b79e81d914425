package server

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/giantswarm/employee-mcp-server/instrumentation"
	"github.com/giantswarm/employee-mcp-server/internal/testutil"
	"github.com/giantswarm/employee-mcp-server/storage"
	"github.com/giantswarm/employee-mcp-server/storage/memory"
)

const testIssuer = "https://auth.example.com"

func newTestServer(t *testing.T, config *Config) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	if config == nil {
		config = &Config{}
	}
	if config.Issuer == "" {
		config.Issuer = testIssuer
	}

	srv, err := New(store, store, store, config, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, store
}

func TestNew(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	if srv.Config.Issuer != testIssuer {
		t.Errorf("Issuer = %q, want %q", srv.Config.Issuer, testIssuer)
	}
	if srv.Logger == nil {
		t.Error("Logger should not be nil")
	}
	if srv.Config.AuthorizationCodeTTL != 600 {
		t.Errorf("AuthorizationCodeTTL = %d, want 600", srv.Config.AuthorizationCodeTTL)
	}
	if srv.Config.AccessTokenTTL != 3600 {
		t.Errorf("AccessTokenTTL = %d, want 3600", srv.Config.AccessTokenTTL)
	}
}

func TestNew_WithLogger(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	logger := slog.Default()
	srv, err := New(store, store, store, &Config{Issuer: testIssuer}, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Logger != logger {
		t.Error("Logger should match provided logger")
	}
}

func TestNew_NilConfig(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	srv, err := New(store, store, store, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Config == nil {
		t.Fatal("Config should not be nil when nil is passed")
	}
	if srv.Config.Clock == nil {
		t.Error("Clock should default to time.Now")
	}
}

func TestNew_MissingStores(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	tests := []struct {
		name        string
		clientStore storage.ClientStore
		codeStore   storage.CodeStore
		tokenStore  storage.TokenStore
	}{
		{"missing client store", nil, store, store},
		{"missing code store", store, nil, store},
		{"missing token store", store, store, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.clientStore, tt.codeStore, tt.tokenStore, nil, nil); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestNew_StaticClients(t *testing.T) {
	srv, store := newTestServer(t, &Config{
		StaticClients: []*storage.Client{{
			ClientID:     "default-client",
			RedirectURIs: []string{"http://localhost:3000/callback"},
			ClientName:   "Default MCP Client",
		}},
	})

	client, err := store.GetClient(context.Background(), "default-client")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if client.TokenEndpointAuthMethod != TokenEndpointAuthMethodNone {
		t.Errorf("TokenEndpointAuthMethod = %q, want none", client.TokenEndpointAuthMethod)
	}
	if len(client.GrantTypes) != 2 {
		t.Errorf("GrantTypes = %v, want authorization_code and refresh_token", client.GrantTypes)
	}
	if client.IssuedAt.IsZero() {
		t.Error("IssuedAt should be set")
	}

	if _, err := srv.GetClient(context.Background(), "default-client"); err != nil {
		t.Errorf("Server.GetClient() error = %v", err)
	}
}

func TestNew_StaticClientWithoutID(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	_, err := New(store, store, store, &Config{
		Issuer:        testIssuer,
		StaticClients: []*storage.Client{{ClientName: "nameless"}},
	}, nil)
	if err == nil {
		t.Error("New() should reject a static client without ID")
	}
}

func TestNew_RegistrationTokenIsHashed(t *testing.T) {
	srv, _ := newTestServer(t, &Config{RegistrationAccessToken: "s3cret-registration-token"})

	if srv.Config.RegistrationAccessToken != "" {
		t.Error("plain registration token should not be kept in Config")
	}
	if !srv.RegistrationEnabled() || !srv.RegistrationTokenRequired() {
		t.Error("registration should be enabled and require a token")
	}
	if err := srv.VerifyRegistrationToken("s3cret-registration-token"); err != nil {
		t.Errorf("VerifyRegistrationToken() error = %v", err)
	}
	if err := srv.VerifyRegistrationToken("wrong"); err == nil {
		t.Error("VerifyRegistrationToken() should reject a wrong token")
	}
}

func TestServer_RegistrationEnabled(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		want   bool
	}{
		{"disabled by default", &Config{}, false},
		{"public registration", &Config{AllowPublicClientRegistration: true}, true},
		{"token registration", &Config{RegistrationAccessToken: "token"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.config)
			if got := srv.RegistrationEnabled(); got != tt.want {
				t.Errorf("RegistrationEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServer_SetClockPropagatesToStore(t *testing.T) {
	srv, store := newTestServer(t, nil)
	clock := testutil.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	srv.SetClock(clock.Now)

	access, refresh := testutil.GenerateTestTokenPair(clock.Now())
	if err := store.SaveTokenPair(context.Background(), access, refresh); err != nil {
		t.Fatalf("SaveTokenPair() error = %v", err)
	}

	if _, err := srv.ValidateAccessToken(context.Background(), access.Token); err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}

	clock.Advance(time.Hour)
	if _, err := srv.ValidateAccessToken(context.Background(), access.Token); err == nil {
		t.Error("token should be rejected once the store clock reaches its expiry")
	}
}

func TestServer_SetInstrumentation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	inst, err := instrumentation.New(instrumentation.Config{Enabled: false})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	srv.SetInstrumentation(inst)
	if srv.metrics() == nil {
		t.Error("metrics() should not be nil with instrumentation set")
	}

	srv.SetInstrumentation(nil)
	if srv.metrics() != nil {
		t.Error("metrics() should be nil without instrumentation")
	}
	// spans must still be usable
	_, span := srv.startSpan(context.Background(), "test")
	span.End()
}

func TestGenerateRandomToken(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		token := generateRandomToken()
		if len(token) != 43 {
			t.Errorf("token length = %d, want 43", len(token))
		}
		if seen[token] {
			t.Fatalf("duplicate token generated: %s", token)
		}
		seen[token] = true
	}
}
