package server

import "slices"

// Metadata is the RFC 8414 authorization server metadata document
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`

	// PKCERequired is not part of RFC 8414; MCP clients read it to skip plain PKCE
	PKCERequired bool `json:"pkce_required"`
}

// ProtectedResourceMetadata is the RFC 9728 protected resource metadata document
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

// Metadata returns the discovery document. It depends only on configuration.
func (s *Server) Metadata() *Metadata {
	md := &Metadata{
		Issuer:                            s.Config.Issuer,
		AuthorizationEndpoint:             s.Config.AuthorizationEndpoint(),
		TokenEndpoint:                     s.Config.TokenEndpoint(),
		ScopesSupported:                   slices.Clone(s.Config.SupportedScopes),
		ResponseTypesSupported:            []string{ResponseTypeCode},
		GrantTypesSupported:               slices.Clone(SupportedGrantTypes),
		CodeChallengeMethodsSupported:     []string{PKCEMethodS256},
		TokenEndpointAuthMethodsSupported: []string{TokenEndpointAuthMethodNone},
		PKCERequired:                      true,
	}
	if s.RegistrationEnabled() {
		md.RegistrationEndpoint = s.Config.RegistrationEndpoint()
	}
	return md
}

// ProtectedResourceMetadata returns the metadata for the resource this server protects.
// The MCP endpoints are both the resource and the authorization server.
func (s *Server) ProtectedResourceMetadata() *ProtectedResourceMetadata {
	return &ProtectedResourceMetadata{
		Resource:               s.Config.Issuer,
		AuthorizationServers:   []string{s.Config.Issuer},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        slices.Clone(s.Config.SupportedScopes),
	}
}
