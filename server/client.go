package server

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/giantswarm/employee-mcp-server/storage"
)

// serverAssignedFields are always set by the server, whatever the request said
var serverAssignedFields = []string{"client_id", "client_secret", "client_id_issued_at", "client_secret_expires_at"}

// RegisterClient registers a public client from dynamic registration metadata (RFC 7591).
// Unknown metadata fields are kept and echoed back by ClientInformation.
// Authorization and per-IP limits are enforced by the HTTP layer.
func (s *Server) RegisterClient(ctx context.Context, metadata map[string]any, clientIP string) (*storage.Client, error) {
	ctx, span := s.startSpan(ctx, "server.register_client")
	defer span.End()

	client, err := s.clientFromMetadata(metadata)
	if err != nil {
		s.Logger.Warn("Client registration rejected", "client_ip", clientIP, "error", err)
		s.Auditor.LogClientRegistrationRejected(clientIP, err.Error())
		return nil, ErrInvalidClientMetadata(err.Error())
	}

	client.ClientID = uuid.NewString()
	client.IssuedAt = s.now()

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to save client: %w", err)
	}

	s.Auditor.LogClientRegistered(client.ClientID, ClientTypePublic, clientIP)
	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(ctx, ClientTypePublic)
	}

	s.Logger.Info("Registered new OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"redirect_uris", len(client.RedirectURIs),
		"client_ip", clientIP)

	return client, nil
}

// clientFromMetadata validates registration metadata and builds the client record
func (s *Server) clientFromMetadata(metadata map[string]any) (*storage.Client, error) {
	if metadata == nil {
		return nil, fmt.Errorf("registration body must be a JSON object")
	}

	redirectURIs, err := stringList(metadata, "redirect_uris")
	if err != nil {
		return nil, err
	}
	if len(redirectURIs) == 0 {
		return nil, fmt.Errorf("redirect_uris must contain at least one URI")
	}
	for _, uri := range redirectURIs {
		if err := s.validateRedirectURIForRegistration(uri); err != nil {
			return nil, err
		}
	}

	grantTypes, err := stringList(metadata, "grant_types")
	if err != nil {
		return nil, err
	}
	if len(grantTypes) == 0 {
		grantTypes = slices.Clone(SupportedGrantTypes)
	}
	for _, gt := range grantTypes {
		if !slices.Contains(SupportedGrantTypes, gt) {
			return nil, fmt.Errorf("unsupported grant_type: %s", gt)
		}
	}

	responseTypes, err := stringList(metadata, "response_types")
	if err != nil {
		return nil, err
	}
	if len(responseTypes) == 0 {
		responseTypes = []string{ResponseTypeCode}
	}
	for _, rt := range responseTypes {
		if rt != ResponseTypeCode {
			return nil, fmt.Errorf("unsupported response_type: %s", rt)
		}
	}

	authMethod, err := optionalString(metadata, "token_endpoint_auth_method")
	if err != nil {
		return nil, err
	}
	if authMethod != "" && authMethod != TokenEndpointAuthMethodNone {
		return nil, fmt.Errorf("unsupported token_endpoint_auth_method: %s (only public clients are supported)", authMethod)
	}

	clientName, err := optionalString(metadata, "client_name")
	if err != nil {
		return nil, err
	}

	stored := maps.Clone(metadata)
	for _, field := range serverAssignedFields {
		delete(stored, field)
	}

	return &storage.Client{
		RedirectURIs:            redirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: TokenEndpointAuthMethodNone,
		ClientName:              clientName,
		Metadata:                stored,
	}, nil
}

// stringList reads an optional JSON array of strings
func stringList(metadata map[string]any, field string) ([]string, error) {
	raw, ok := metadata[field]
	if !ok || raw == nil {
		return nil, nil
	}

	switch values := raw.(type) {
	case []string:
		return slices.Clone(values), nil
	case []any:
		out := make([]string, 0, len(values))
		for _, v := range values {
			str, ok := v.(string)
			if !ok || str == "" {
				return nil, fmt.Errorf("%s must be an array of non-empty strings", field)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an array", field)
	}
}

func optionalString(metadata map[string]any, field string) (string, error) {
	raw, ok := metadata[field]
	if !ok || raw == nil {
		return "", nil
	}
	str, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", field)
	}
	return str, nil
}

// ClientInformation builds the RFC 7591 registration response for client:
// the submitted metadata, overridden by the server-assigned fields.
func ClientInformation(client *storage.Client) map[string]any {
	info := maps.Clone(client.Metadata)
	if info == nil {
		info = make(map[string]any)
	}

	info["client_id"] = client.ClientID
	info["client_secret"] = nil
	info["client_id_issued_at"] = client.IssuedAt.Unix()
	info["redirect_uris"] = client.RedirectURIs
	info["grant_types"] = client.GrantTypes
	info["response_types"] = client.ResponseTypes
	info["token_endpoint_auth_method"] = client.TokenEndpointAuthMethod
	if client.ClientName != "" {
		info["client_name"] = client.ClientName
	}

	return info
}

// GetClient retrieves a client by ID
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrClientNotFound) {
		return nil, ErrInvalidClient("Unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}
	return client, nil
}
