package server

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestApplySecureDefaults(t *testing.T) {
	tests := []struct {
		name                      string
		input                     *Config
		expectedAuthCodeTTL       int64
		expectedAccessTokenTTL    int64
		expectedTrustedProxyCount int
		expectedMaxClientsPerIP   int
	}{
		{
			name:                      "all zeros should get defaults",
			input:                     &Config{},
			expectedAuthCodeTTL:       600,
			expectedAccessTokenTTL:    3600,
			expectedTrustedProxyCount: 1,
			expectedMaxClientsPerIP:   10,
		},
		{
			name: "custom values should be preserved",
			input: &Config{
				AuthorizationCodeTTL: 300,
				AccessTokenTTL:       1800,
				TrustedProxyCount:    2,
				MaxClientsPerIP:      20,
			},
			expectedAuthCodeTTL:       300,
			expectedAccessTokenTTL:    1800,
			expectedTrustedProxyCount: 2,
			expectedMaxClientsPerIP:   20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := applySecureDefaults(tt.input, slog.Default())

			if cfg.AuthorizationCodeTTL != tt.expectedAuthCodeTTL {
				t.Errorf("AuthorizationCodeTTL = %d, want %d", cfg.AuthorizationCodeTTL, tt.expectedAuthCodeTTL)
			}
			if cfg.AccessTokenTTL != tt.expectedAccessTokenTTL {
				t.Errorf("AccessTokenTTL = %d, want %d", cfg.AccessTokenTTL, tt.expectedAccessTokenTTL)
			}
			if cfg.TrustedProxyCount != tt.expectedTrustedProxyCount {
				t.Errorf("TrustedProxyCount = %d, want %d", cfg.TrustedProxyCount, tt.expectedTrustedProxyCount)
			}
			if cfg.MaxClientsPerIP != tt.expectedMaxClientsPerIP {
				t.Errorf("MaxClientsPerIP = %d, want %d", cfg.MaxClientsPerIP, tt.expectedMaxClientsPerIP)
			}
			if cfg.Clock == nil {
				t.Error("Clock should be defaulted")
			}
		})
	}
}

func TestApplySecureDefaults_Scopes(t *testing.T) {
	cfg := applySecureDefaults(&Config{}, slog.Default())
	if got := strings.Join(cfg.SupportedScopes, " "); got != "mcp:read mcp:tools" {
		t.Errorf("SupportedScopes = %q, want mcp:read mcp:tools", got)
	}
	if got := strings.Join(cfg.DefaultScopes, " "); got != "mcp:read mcp:tools" {
		t.Errorf("DefaultScopes = %q, want mcp:read mcp:tools", got)
	}

	cfg = applySecureDefaults(&Config{DefaultScopes: []string{"mcp:read"}}, slog.Default())
	if got := strings.Join(cfg.DefaultScopes, " "); got != "mcp:read" {
		t.Errorf("DefaultScopes = %q, want mcp:read", got)
	}
}

func TestLogSecurityWarnings(t *testing.T) {
	tests := []struct {
		name     string
		config   *Config
		contains string
	}{
		{"trust proxy", &Config{TrustProxy: true}, "Trusting proxy headers"},
		{"public registration", &Config{AllowPublicClientRegistration: true}, "Public client registration is ENABLED"},
		{"registration disabled", &Config{}, "Dynamic client registration disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			applySecureDefaults(tt.config, slog.New(slog.NewTextHandler(&buf, nil)))
			if !strings.Contains(buf.String(), tt.contains) {
				t.Errorf("log output %q does not contain %q", buf.String(), tt.contains)
			}
		})
	}
}

func TestConfig_Endpoints(t *testing.T) {
	tests := []struct {
		issuer string
	}{
		{"https://auth.example.com"},
		{"https://auth.example.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.issuer, func(t *testing.T) {
			cfg := &Config{Issuer: tt.issuer}
			if got := cfg.AuthorizationEndpoint(); got != "https://auth.example.com/authorize" {
				t.Errorf("AuthorizationEndpoint() = %q", got)
			}
			if got := cfg.TokenEndpoint(); got != "https://auth.example.com/token" {
				t.Errorf("TokenEndpoint() = %q", got)
			}
			if got := cfg.RegistrationEndpoint(); got != "https://auth.example.com/register" {
				t.Errorf("RegistrationEndpoint() = %q", got)
			}
			if got := cfg.ProtectedResourceMetadataEndpoint(); got != "https://auth.example.com/.well-known/oauth-protected-resource" {
				t.Errorf("ProtectedResourceMetadataEndpoint() = %q", got)
			}
		})
	}
}
