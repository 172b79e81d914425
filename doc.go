// Package oauth embeds an OAuth 2.1 authorization server into an MCP server.
//
// Only public clients and the authorization-code grant with mandatory PKCE (S256)
// are supported. Clients register themselves through dynamic client registration
// (RFC 7591), receive an authorization code without an interactive consent step,
// and exchange it for an opaque access token plus a refresh token. Refreshing
// rotates the access token: the previous one stops validating immediately.
//
// Typical wiring:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := oauth.NewServer(store, &oauth.Config{
//		Server: server.Config{
//			Issuer:                        "https://mcp.example.com",
//			AllowPublicClientRegistration: true,
//		},
//		RateLimit: oauth.RateLimitConfig{Rate: 10},
//	})
//	if err != nil {
//		return err
//	}
//	defer srv.Shutdown(context.Background())
//
//	h := oauth.NewHandler(srv, logger)
//	mux := http.NewServeMux()
//	h.RegisterRoutes(mux)
//	mux.Handle("/sse", h.ValidateToken(mcpHandler))
//
// Handlers behind ValidateToken read the caller's grant with GrantFromContext.
package oauth
