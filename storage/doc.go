// Package storage provides interfaces and shared types for OAuth client, authorization
// code, and token persistence.
//
// The storage package defines the core storage interfaces used by the authorization server:
//   - ClientStore: Manages registered OAuth clients
//   - CodeStore: Manages single-use authorization codes
//   - TokenStore: Manages access tokens and the refresh tokens linked to them
//
// The two read-modify-write operations, RedeemAuthorizationCode and
// RotateAccessToken, must be atomic in every implementation so that a code is
// redeemed at most once and a refresh never loses an update.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage guarded by a sync.RWMutex
package storage
