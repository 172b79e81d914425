// Package server implements the authorization server core: client registration,
// the authorization endpoint, the token endpoint and bearer token validation.
//
// It is transport-agnostic. The root package adapts it to HTTP; storage is
// injected through the storage.ClientStore, storage.CodeStore and
// storage.TokenStore interfaces.
//
// Flow:
//
//	client, _ := srv.RegisterClient(ctx, metadata, ip)
//	redirect, _ := srv.Authorize(ctx, &server.AuthorizationRequest{...}, ip)
//	token, scope, _ := srv.ExchangeAuthorizationCode(ctx, code, clientID, redirectURI, verifier, ip)
//	grant, _ := srv.ValidateAccessToken(ctx, token.AccessToken)
//	token, scope, _ = srv.RefreshAccessToken(ctx, token.RefreshToken, clientID, ip)
//
// PKCE with S256 is mandatory for every authorization request. Authorization codes
// are single use; refresh tokens do not expire and are not rotated, only the access
// token they renew is.
package server
