package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oauth "github.com/giantswarm/employee-mcp-server"
	"github.com/giantswarm/employee-mcp-server/internal/testutil"
	"github.com/giantswarm/employee-mcp-server/server"
	"github.com/giantswarm/employee-mcp-server/storage"
	"github.com/giantswarm/employee-mcp-server/storage/memory"
)

type testServer struct {
	url   string
	srv   *oauth.Server
	clock *testutil.MockClock
	http  *http.Client
}

// startServer serves the OAuth endpoints plus a bearer-protected /whoami on a
// local listener. The issuer is the listener's URL.
func startServer(t *testing.T, configure func(*server.Config)) *testServer {
	t.Helper()

	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	store := memory.New()
	t.Cleanup(store.Stop)

	clock := testutil.NewMockClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	cfg := server.Config{
		Issuer:                        ts.URL,
		AllowPublicClientRegistration: true,
		Clock:                         clock.Now,
	}
	if configure != nil {
		configure(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := oauth.NewServer(store, &oauth.Config{Server: cfg, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	h := oauth.NewHandler(srv, logger)
	h.RegisterRoutes(mux)
	mux.Handle("/whoami", h.ValidateToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		grant, _ := oauth.GrantFromContext(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]string{"client_id": grant.ClientID, "scope": grant.Scope})
	})))

	return &testServer{url: ts.URL, srv: srv, clock: clock, http: ts.Client()}
}

func (s *testServer) whoami(t *testing.T, accessToken string) (int, map[string]string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, s.url+"/whoami", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.http.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body map[string]string
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp.StatusCode, body
}

func newClient(t *testing.T, ts *testServer, cfg Config) *Client {
	t.Helper()
	cfg.ServerURL = ts.url
	cfg.HTTPClient = ts.http
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresServerURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestClient_Discover(t *testing.T) {
	ts := startServer(t, nil)
	c := newClient(t, ts, Config{})

	md, err := c.Discover(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ts.url, md.Issuer)
	assert.Equal(t, ts.url+"/token", md.TokenEndpoint)
	assert.Equal(t, []string{"S256"}, md.CodeChallengeMethodsSupported)
	assert.True(t, md.PKCERequired)
}

func TestClient_Login(t *testing.T) {
	ts := startServer(t, nil)
	c := newClient(t, ts, Config{})

	session, err := c.Login(t.Context())
	require.NoError(t, err)
	require.NotEmpty(t, session.ClientID)
	assert.Equal(t, "mcp:read mcp:tools", session.Scope)
	assert.Equal(t, "Bearer", session.Token.TokenType)
	assert.NotEmpty(t, session.Token.RefreshToken)

	status, who := ts.whoami(t, session.Token.AccessToken)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, session.ClientID, who["client_id"])
}

func TestClient_Login_ExistingClientAndScope(t *testing.T) {
	ts := startServer(t, func(cfg *server.Config) {
		cfg.AllowPublicClientRegistration = false
		cfg.StaticClients = []*storage.Client{{
			ClientID:     "cli",
			RedirectURIs: []string{DefaultRedirectURI},
			GrantTypes:   []string{"authorization_code", "refresh_token"},
		}}
	})
	c := newClient(t, ts, Config{ClientID: "cli", Scopes: []string{"mcp:read"}})

	session, err := c.Login(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "cli", session.ClientID)
	assert.Equal(t, "mcp:read", session.Scope)
}

func TestClient_Login_Errors(t *testing.T) {
	t.Run("registration disabled", func(t *testing.T) {
		ts := startServer(t, func(cfg *server.Config) { cfg.AllowPublicClientRegistration = false })
		_, err := newClient(t, ts, Config{}).Login(t.Context())
		assert.ErrorContains(t, err, "does not offer dynamic client registration")
	})

	t.Run("unknown client", func(t *testing.T) {
		ts := startServer(t, nil)
		_, err := newClient(t, ts, Config{ClientID: "nobody"}).Login(t.Context())
		assert.True(t, IsOAuthError(err, "invalid_client"), "err = %v", err)
	})

	t.Run("unsupported scope", func(t *testing.T) {
		ts := startServer(t, nil)
		_, err := newClient(t, ts, Config{Scopes: []string{"admin"}}).Login(t.Context())
		assert.True(t, IsOAuthError(err, "invalid_scope"), "err = %v", err)
	})

	t.Run("registration token required", func(t *testing.T) {
		ts := startServer(t, func(cfg *server.Config) {
			cfg.AllowPublicClientRegistration = false
			cfg.RegistrationAccessToken = "secret"
		})

		_, err := newClient(t, ts, Config{RegistrationToken: "wrong"}).Login(t.Context())
		assert.True(t, IsOAuthError(err, "invalid_token"), "err = %v", err)

		session, err := newClient(t, ts, Config{RegistrationToken: "secret"}).Login(t.Context())
		require.NoError(t, err)
		assert.NotEmpty(t, session.Token.AccessToken)
	})
}

func TestClient_Refresh(t *testing.T) {
	ts := startServer(t, nil)
	c := newClient(t, ts, Config{})

	session, err := c.Login(t.Context())
	require.NoError(t, err)

	refreshed, err := c.Refresh(t.Context(), session.ClientID, session.Token.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.Token.AccessToken, refreshed.AccessToken)
	assert.Equal(t, session.Token.RefreshToken, refreshed.RefreshToken)

	status, _ := ts.whoami(t, session.Token.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, status, "old access token must be invalidated")
	status, _ = ts.whoami(t, refreshed.AccessToken)
	assert.Equal(t, http.StatusOK, status)

	_, err = c.Refresh(t.Context(), session.ClientID, "bogus")
	assert.Error(t, err)
	_, err = c.Refresh(t.Context(), session.ClientID, "")
	assert.Error(t, err)
}

func TestClient_authorize_StateMismatch(t *testing.T) {
	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, DefaultRedirectURI+"?code=abc&state=forged", http.StatusFound)
	}))
	t.Cleanup(redirector.Close)

	c, err := New(Config{ServerURL: redirector.URL, HTTPClient: redirector.Client()})
	require.NoError(t, err)

	_, err = c.authorize(t.Context(), redirector.URL+"/authorize", "expected")
	assert.ErrorContains(t, err, "state mismatch")
}
