package server

import (
	"net/url"
	"testing"
)

func TestS256Challenge(t *testing.T) {
	// RFC 7636 Appendix B
	verifier := "dBjftJeZ4CVP-mA3ZeKQz2wTr2Zn5rLk9Iv4nMtrg3o"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	if got := S256Challenge(verifier); got != want {
		t.Errorf("S256Challenge() = %q, want %q", got, want)
	}
}

func TestValidatePKCE(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mA3ZeKQz2wTr2Zn5rLk9Iv4nMtrg3o"
	challenge := S256Challenge(verifier)

	tests := []struct {
		name      string
		challenge string
		verifier  string
		wantErr   bool
	}{
		{"matching verifier", challenge, verifier, false},
		{"wrong verifier", challenge, "not-the-verifier", true},
		{"empty verifier", challenge, "", true},
		{"verifier equal to challenge", challenge, challenge, true},
		{"no stored challenge", "", verifier, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePKCE(tt.challenge, tt.verifier)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePKCE() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServer_validateScopes(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name    string
		scope   string
		wantErr bool
	}{
		{"empty", "", false},
		{"read", "mcp:read", false},
		{"both", "mcp:read mcp:tools", false},
		{"extra whitespace", "  mcp:tools   mcp:read ", false},
		{"unknown scope", "mcp:admin", true},
		{"one unknown among known", "mcp:read mcp:admin", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := srv.validateScopes(tt.scope)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateScopes(%q) error = %v, wantErr %v", tt.scope, err, tt.wantErr)
			}
		})
	}
}

func TestServer_validateRedirectURIForRegistration(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{"https", "https://app.example.com/callback", false},
		{"loopback http", "http://localhost:3000/callback", false},
		{"loopback ip with port", "http://127.0.0.1:8765/cb", false},
		{"private use scheme", "cursor://anysphere.cursor-retrieval/oauth/callback", false},
		{"with query", "https://app.example.com/cb?tenant=acme", false},
		{"relative", "/callback", true},
		{"fragment", "https://app.example.com/cb#frag", true},
		{"empty fragment", "https://app.example.com/cb#", true},
		{"javascript", "javascript:alert(1)", true},
		{"data", "data:text/html,hi", true},
		{"file", "file:///etc/passwd", true},
		{"uppercase dangerous scheme", "JAVASCRIPT:alert(1)", true},
		{"http without host", "http:///cb", true},
		{"unparseable", "https://[::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := srv.validateRedirectURIForRegistration(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRedirectURIForRegistration(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
		})
	}
}

func TestBuildRedirectURL(t *testing.T) {
	tests := []struct {
		name        string
		redirectURI string
		state       string
		wantQuery   url.Values
	}{
		{
			name:        "with state",
			redirectURI: "https://app.example.com/cb",
			state:       "xyz",
			wantQuery:   url.Values{"code": {"the-code"}, "state": {"xyz"}},
		},
		{
			name:        "without state",
			redirectURI: "https://app.example.com/cb",
			wantQuery:   url.Values{"code": {"the-code"}},
		},
		{
			name:        "keeps registered query",
			redirectURI: "https://app.example.com/cb?tenant=acme",
			state:       "s p&ce",
			wantQuery:   url.Values{"code": {"the-code"}, "state": {"s p&ce"}, "tenant": {"acme"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildRedirectURL(tt.redirectURI, "the-code", tt.state)
			if err != nil {
				t.Fatalf("buildRedirectURL() error = %v", err)
			}

			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("result %q does not parse: %v", got, err)
			}
			if u.Host != "app.example.com" || u.Path != "/cb" {
				t.Errorf("redirect target changed: %s", got)
			}
			if u.Query().Encode() != tt.wantQuery.Encode() {
				t.Errorf("query = %q, want %q", u.Query().Encode(), tt.wantQuery.Encode())
			}
		})
	}
}

func TestBuildRedirectURL_Invalid(t *testing.T) {
	if _, err := buildRedirectURL("https://[::1", "code", ""); err == nil {
		t.Error("expected error for unparseable redirect URI")
	}
}
