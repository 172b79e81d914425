package oauth

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler_ServeClientRegistration(t *testing.T) {
	env := setupTestHandler(t, nil)

	rec := env.register(t, `{
		"redirect_uris": ["https://app/cb", "http://localhost:8765/callback"],
		"client_name": "Directory Browser",
		"grant_types": ["authorization_code", "refresh_token"],
		"software_id": "dir-browser",
		"client_id": "chosen-by-client"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}

	info := decodeBody(t, rec)
	clientID, _ := info["client_id"].(string)
	if clientID == "" || clientID == "chosen-by-client" {
		t.Errorf("client_id = %q, want a server-assigned id", clientID)
	}
	if _, ok := info["client_id_issued_at"].(float64); !ok {
		t.Errorf("client_id_issued_at = %v, want a number", info["client_id_issued_at"])
	}
	if secret, present := info["client_secret"]; !present || secret != nil {
		t.Errorf("client_secret = %v (present %v), want explicit null", secret, present)
	}
	if info["software_id"] != "dir-browser" {
		t.Errorf("unknown metadata not echoed: software_id = %v", info["software_id"])
	}
	if info["token_endpoint_auth_method"] != "none" {
		t.Errorf("token_endpoint_auth_method = %v, want none", info["token_endpoint_auth_method"])
	}

	if _, err := env.server.GetClient(t.Context(), clientID); err != nil {
		t.Errorf("registered client not retrievable: %v", err)
	}
}

func TestHandler_ServeClientRegistration_InvalidMetadata(t *testing.T) {
	// rejected attempts still count against the per-IP registration budget
	env := setupTestHandler(t, func(cfg *Config) {
		cfg.Server.MaxClientsPerIP = 100
	})

	tests := []struct {
		name string
		body string
	}{
		{"not JSON", `redirect_uris=https://app/cb`},
		{"JSON array", `["https://app/cb"]`},
		{"JSON null", `null`},
		{"missing redirect_uris", `{"client_name":"x"}`},
		{"empty redirect_uris", `{"redirect_uris":[]}`},
		{"redirect_uris not a list", `{"redirect_uris":"https://app/cb"}`},
		{"relative redirect", `{"redirect_uris":["/cb"]}`},
		{"fragment", `{"redirect_uris":["https://app/cb#x"]}`},
		{"javascript scheme", `{"redirect_uris":["javascript:alert(1)"]}`},
		{"implicit grant", `{"redirect_uris":["https://app/cb"],"grant_types":["implicit"]}`},
		{"token response type", `{"redirect_uris":["https://app/cb"],"response_types":["token"]}`},
		{"confidential client", `{"redirect_uris":["https://app/cb"],"token_endpoint_auth_method":"client_secret_basic"}`},
		{"client_name not a string", `{"redirect_uris":["https://app/cb"],"client_name":7}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertErrorResponse(t, env.register(t, tt.body), http.StatusBadRequest, ErrorCodeInvalidClientMetadata)
		})
	}

	clients, err := env.store.ListClients(t.Context())
	if err != nil {
		t.Fatalf("ListClients() error = %v", err)
	}
	if len(clients) != 0 {
		t.Errorf("rejected registrations stored %d clients", len(clients))
	}
}

func TestHandler_ServeClientRegistration_Disabled(t *testing.T) {
	env := setupTestHandler(t, func(cfg *Config) {
		cfg.Server.AllowPublicClientRegistration = false
	})

	assertErrorResponse(t, env.register(t, `{"redirect_uris":["https://app/cb"]}`), http.StatusForbidden, ErrorCodeAccessDenied)

	md := decodeBody(t, env.do(httptest.NewRequest(http.MethodGet, AuthorizationServerMetadataPath, nil)))
	if _, ok := md["registration_endpoint"]; ok {
		t.Error("registration_endpoint advertised while registration is disabled")
	}
}

func TestHandler_ServeClientRegistration_RegistrationToken(t *testing.T) {
	env := setupTestHandler(t, func(cfg *Config) {
		cfg.Server.AllowPublicClientRegistration = false
		cfg.Server.RegistrationAccessToken = "initial-access-token"
	})

	body := `{"redirect_uris":["https://app/cb"]}`
	send := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, RegistrationPath, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		return env.do(req)
	}

	tests := []struct {
		name          string
		authorization string
		wantStatus    int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong token", "Bearer guess", http.StatusUnauthorized},
		{"wrong scheme", "Basic initial-access-token", http.StatusUnauthorized},
		{"valid", "Bearer initial-access-token", http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := send(tt.authorization)
			if tt.wantStatus == http.StatusCreated {
				if rec.Code != http.StatusCreated {
					t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
				}
				return
			}
			assertErrorResponse(t, rec, tt.wantStatus, ErrorCodeInvalidToken)
			if !strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Bearer ") {
				t.Errorf("WWW-Authenticate = %q", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestHandler_ServeClientRegistration_PerIPLimit(t *testing.T) {
	env := setupTestHandler(t, func(cfg *Config) {
		cfg.Server.MaxClientsPerIP = 2
	})

	for i := range 2 {
		if rec := env.register(t, `{"redirect_uris":["https://app/cb"]}`); rec.Code != http.StatusCreated {
			t.Fatalf("registration %d: status = %d", i, rec.Code)
		}
	}

	rec := env.register(t, `{"redirect_uris":["https://app/cb"]}`)
	assertErrorResponse(t, rec, http.StatusTooManyRequests, ErrorCodeRateLimitExceeded)

	other := httptest.NewRequest(http.MethodPost, RegistrationPath, strings.NewReader(`{"redirect_uris":["https://app/cb"]}`))
	other.RemoteAddr = "198.51.100.7:4444"
	if rec := env.do(other); rec.Code != http.StatusCreated {
		t.Errorf("registration from another IP: status = %d, want 201", rec.Code)
	}
}

func TestHandler_ServeClientRegistration_PerIPLimitBehindProxy(t *testing.T) {
	var logs bytes.Buffer
	env := setupTestHandler(t, func(cfg *Config) {
		cfg.Server.MaxClientsPerIP = 1
		cfg.Server.TrustProxy = true
		cfg.EnableAuditLogging = true
		cfg.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	})

	tests := []struct {
		name         string
		forwardedFor string
		wantStatus   int
	}{
		{"first client", "198.51.100.1, 10.0.0.4", http.StatusCreated},
		{"first client again", "198.51.100.1, 10.0.0.4", http.StatusTooManyRequests},
		{"first client with prepended address", "192.0.2.99, 198.51.100.1, 10.0.0.4", http.StatusTooManyRequests},
		{"second client", "198.51.100.2, 10.0.0.4", http.StatusCreated},
		{"malformed header keyed on ingress", "garbage, 10.0.0.4", http.StatusCreated},
		{"ingress budget spent", "also-garbage, 10.0.0.4", http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, RegistrationPath, strings.NewReader(`{"redirect_uris":["https://app/cb"]}`))
		req.RemoteAddr = "10.0.0.5:443"
		req.Header.Set("X-Forwarded-For", tt.forwardedFor)

		if rec := env.do(req); rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.wantStatus)
		}
	}

	out := logs.String()
	if !strings.Contains(out, "event_type=forwarded_for_rejected") {
		t.Errorf("malformed X-Forwarded-For was not audited: %s", out)
	}
	if !strings.Contains(out, "ip_address=10.0.0.5") {
		t.Errorf("audit record not attributed to the ingress address: %s", out)
	}
	if strings.Contains(out, "garbage") {
		t.Errorf("raw X-Forwarded-For leaked into logs: %s", out)
	}
}

func TestHandler_ServeClientRegistration_MethodNotAllowed(t *testing.T) {
	env := setupTestHandler(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, RegistrationPath, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
