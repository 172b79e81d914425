// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/employee-mcp-server/instrumentation"
	"github.com/giantswarm/employee-mcp-server/internal/util"
	"github.com/giantswarm/employee-mcp-server/storage"
)

const (
	// tokenIDLogLength is the number of characters to include when logging codes and tokens
	tokenIDLogLength = 8

	// DefaultCleanupInterval is the sweep period used by New
	DefaultCleanupInterval = time.Minute
)

// Store is an in-memory implementation of ClientStore, CodeStore and TokenStore.
// A single RWMutex guards all maps so that multi-map updates (token rotation)
// happen in one critical section.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	codes         map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	clock func() time.Time

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCountAtomic       atomic.Int64
	codesCountAtomic         atomic.Int64
	accessTokensCountAtomic  atomic.Int64
	refreshTokensCountAtomic atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// New creates a new in-memory store that sweeps expired entries every minute
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with a custom sweep interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		codes:           make(map[string]*storage.AuthorizationCode),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		clock:           time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock replaces the time source used for expiry decisions
func (s *Store) SetClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.syncCountersLocked()
	logger := s.logger
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.accessTokensCountAtomic.Load() },
			func() int64 { return s.refreshTokensCountAtomic.Load() },
		)
		if err != nil {
			logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		err = storage.ErrClientExists
		return err
	}

	clientCopy := *client
	s.clients[client.ClientID] = &clientCopy
	s.clientsCountAtomic.Add(1)

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = storage.ErrClientNotFound
		return nil, err
	}

	clientCopy := *client
	return &clientCopy, nil
}

// ListClients lists all registered clients ordered by issuance time
func (s *Store) ListClients(_ context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clientCopy := *client
		clients = append(clients, &clientCopy)
	}
	sort.Slice(clients, func(i, j int) bool {
		if clients[i].IssuedAt.Equal(clients[j].IssuedAt) {
			return clients[i].ClientID < clients[j].ClientID
		}
		return clients[i].IssuedAt.Before(clients[j].IssuedAt)
	})

	return clients, nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	codeCopy := *code
	if _, existed := s.codes[code.Code]; !existed {
		s.codesCountAtomic.Add(1)
	}
	s.codes[code.Code] = &codeCopy

	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without modifying it.
// Used and expired codes are still returned; callers inspect Used and Expired.
//
// NOTE: For actual code exchange, use RedeemAuthorizationCode instead
// to prevent race conditions.
func (s *Store) GetAuthorizationCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	codeCopy := *authCode
	return &codeCopy, nil
}

// RedeemAuthorizationCode atomically checks a code and marks it used.
//
// SECURITY: This operation is atomic - only ONE concurrent request can succeed.
// All other concurrent requests will receive ErrAuthorizationCodeUsed.
//
// On ErrAuthorizationCodeUsed the stored code is returned alongside the error so
// that callers can attribute the reuse attempt. For other errors nil is returned.
// If check rejects the code, its error is returned unchanged and the code stays unused.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, code string, check func(*storage.AuthorizationCode) error) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "redeem_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "redeem_authorization_code", err, startTime)
	}()

	s.mu.Lock() // MUST use write lock for atomic check-and-set
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		err = storage.ErrAuthorizationCodeNotFound
		return nil, err
	}

	if authCode.Used {
		err = storage.ErrAuthorizationCodeUsed
		codeCopy := *authCode
		return &codeCopy, err
	}

	if authCode.Expired(s.clock()) {
		err = storage.ErrAuthorizationCodeExpired
		return nil, err
	}

	codeCopy := *authCode
	if check != nil {
		if err = check(&codeCopy); err != nil {
			return nil, err
		}
	}

	authCode.Used = true
	codeCopy.Used = true
	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))

	return &codeCopy, nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveTokenPair stores an access token and the refresh token linked to it.
// refresh may be nil when no refresh token is issued.
func (s *Store) SaveTokenPair(ctx context.Context, access *storage.AccessToken, refresh *storage.RefreshToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_token_pair")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_token_pair", err, startTime)
	}()

	if access == nil || access.Token == "" {
		err = fmt.Errorf("access token cannot be empty")
		return err
	}
	if refresh != nil && (refresh.Token == "" || refresh.AccessToken != access.Token) {
		err = fmt.Errorf("refresh token must be linked to the access token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accessCopy := *access
	if _, existed := s.accessTokens[access.Token]; !existed {
		s.accessTokensCountAtomic.Add(1)
	}
	s.accessTokens[access.Token] = &accessCopy

	if refresh != nil {
		refreshCopy := *refresh
		if _, existed := s.refreshTokens[refresh.Token]; !existed {
			s.refreshTokensCountAtomic.Add(1)
		}
		s.refreshTokens[refresh.Token] = &refreshCopy
	}

	s.logger.Debug("Saved token pair",
		"client_id", access.ClientID,
		"token_prefix", util.SafeTruncate(access.Token, tokenIDLogLength))
	return nil
}

// GetAccessToken retrieves an access token. A token at or past its expiry is
// reported as ErrTokenExpired and left in place for the sweep.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_access_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	accessToken, ok := s.accessTokens[token]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	if !accessToken.Valid(s.clock()) {
		err = storage.ErrTokenExpired
		return nil, err
	}

	tokenCopy := *accessToken
	return &tokenCopy, nil
}

// GetRefreshToken retrieves a refresh token. Refresh tokens do not expire.
func (s *Store) GetRefreshToken(_ context.Context, token string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refreshToken, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}

	tokenCopy := *refreshToken
	return &tokenCopy, nil
}

// RotateAccessToken replaces the access token linked to refreshToken with the one
// built by next, inside a single critical section.
//
// SECURITY: concurrent rotations of the same refresh token are serialized; each
// deletes the access token the previous one installed, so at most one access
// token per refresh token is ever valid.
func (s *Store) RotateAccessToken(ctx context.Context, refreshToken string, next func(*storage.RefreshToken) *storage.AccessToken) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "rotate_access_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "rotate_access_token", err, startTime)
	}()

	if next == nil {
		err = fmt.Errorf("next access token builder cannot be nil")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.refreshTokens[refreshToken]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	rtCopy := *rt
	newToken := next(&rtCopy)
	if newToken == nil || newToken.Token == "" {
		err = fmt.Errorf("next access token builder returned an empty token")
		return nil, err
	}

	if _, existed := s.accessTokens[rt.AccessToken]; existed {
		delete(s.accessTokens, rt.AccessToken)
		s.accessTokensCountAtomic.Add(-1)
	}

	accessCopy := *newToken
	if _, existed := s.accessTokens[newToken.Token]; !existed {
		s.accessTokensCountAtomic.Add(1)
	}
	s.accessTokens[newToken.Token] = &accessCopy
	rt.AccessToken = newToken.Token

	s.logger.Debug("Rotated access token",
		"client_id", rt.ClientID,
		"refresh_prefix", util.SafeTruncate(refreshToken, tokenIDLogLength),
		"token_prefix", util.SafeTruncate(newToken.Token, tokenIDLogLength))

	result := accessCopy
	return &result, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes expired authorization codes and expired access tokens.
// Lookups already treat these entries as unusable, so sweeping never changes
// the outcome of a request. Refresh tokens are kept; they do not expire.
// Returns the number of removed entries.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	cleaned := 0

	for code, authCode := range s.codes {
		if authCode.Expired(now) {
			delete(s.codes, code)
			cleaned++
		}
	}

	for token, accessToken := range s.accessTokens {
		if !accessToken.Valid(now) {
			delete(s.accessTokens, token)
			cleaned++
		}
	}

	s.syncCountersLocked()

	if cleaned > 0 {
		s.logger.Debug("Swept expired entries", "count", cleaned)
	}
	return cleaned
}

// syncCountersLocked resets the atomic size counters from the maps.
// Caller must hold s.mu.
func (s *Store) syncCountersLocked() {
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.accessTokensCountAtomic.Store(int64(len(s.accessTokens)))
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	s.mu.RLock()
	tracer := s.tracer
	s.mu.RUnlock()

	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	s.mu.RLock()
	inst := s.instrumentation
	s.mu.RUnlock()

	if inst == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
