// Package memory provides an in-memory implementation of all storage
// interfaces, including every optional grant capability. It is suitable for
// development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/seedworks/oauth2-server/instrumentation"
	"github.com/seedworks/oauth2-server/internal/util"
	"github.com/seedworks/oauth2-server/storage"
)

// tokenLogLength is how many characters of a token to include when logging.
// Enough for correlation, useless for replay.
const tokenLogLength = 8

// ExtensionGrantFunc evaluates an extension grant registered under a URI.
// A nil result with a nil error rejects the grant.
type ExtensionGrantFunc func(ctx context.Context, params url.Values) (*storage.GrantResult, error)

// userRecord is a resource owner usable with the password grant.
type userRecord struct {
	userID       string
	passwordHash []byte // bcrypt
	scope        string
}

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	users         map[string]*userRecord
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken
	authCodes     map[string]*storage.AuthorizationCode
	extensions    map[string]ExtensionGrantFunc

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during collection)
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64
	authCodesCount     atomic.Int64
	clientsCount       atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.Storage        = (*Store)(nil)
	_ storage.GrantCode      = (*Store)(nil)
	_ storage.GrantUser      = (*Store)(nil)
	_ storage.GrantClient    = (*Store)(nil)
	_ storage.GrantExtension = (*Store)(nil)
	_ storage.RefreshTokens  = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, the default of 1 minute
// is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		users:           make(map[string]*userRecord),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		extensions:      make(map[string]ExtensionGrantFunc),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	s.authCodesCount.Store(int64(len(s.authCodes)))
	s.clientsCount.Store(int64(len(s.clients)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			s.accessTokensCount.Load,
			s.refreshTokensCount.Load,
			s.authCodesCount.Load,
			s.clientsCount.Load,
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// Registration helpers (out-of-band provisioning)
// ============================================================

// RegisterClient registers a client, hashing its secret with bcrypt. An
// empty secret registers a public client.
func (s *Store) RegisterClient(client *storage.Client, secret string) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client with a client id is required")
	}

	registered := *client
	if secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash client secret: %w", err)
		}
		registered.ClientSecretHash = string(hash)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, existed := s.clients[registered.ClientID]; !existed {
		s.clientsCount.Add(1)
	}
	s.clients[registered.ClientID] = &registered
	s.logger.Debug("Registered client", "client_id", registered.ClientID)
	return nil
}

// SetUser registers a resource owner for the password grant.
func (s *Store) SetUser(username, password, userID, scope string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	if userID == "" {
		userID = username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &userRecord{userID: userID, passwordHash: hash, scope: scope}
	return nil
}

// RegisterGrantExtension registers an extension grant under its identifying
// URI.
func (s *Store) RegisterGrantExtension(uri string, fn ExtensionGrantFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extensions[uri] = fn
}

// ============================================================
// Storage implementation
// ============================================================

// CheckClientCredentials reports whether the client id and secret are valid.
// A public client (no stored secret hash) authenticates with an empty secret.
func (s *Store) CheckClientCredentials(ctx context.Context, clientID, clientSecret string) (bool, error) {
	ctx, span := s.startStorageSpan(ctx, "check_client_credentials")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "check_client_credentials", err, start) }()

	s.mu.RLock()
	client, exists := s.clients[clientID]
	s.mu.RUnlock()
	if !exists {
		return false, nil
	}

	if client.ClientSecretHash == "" {
		return clientSecret == "", nil
	}
	return bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)) == nil, nil
}

// GetClientDetails retrieves a registered client by id
func (s *Store) GetClientDetails(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client_details")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_client_details", err, start) }()

	s.mu.RLock()
	client, exists := s.clients[clientID]
	s.mu.RUnlock()
	if !exists {
		err = fmt.Errorf("client %q: %w", clientID, storage.ErrNotFound)
		return nil, err
	}
	copied := *client
	return &copied, nil
}

// GetAccessToken looks up an issued access token
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_access_token", err, start) }()

	s.mu.RLock()
	record, exists := s.accessTokens[token]
	s.mu.RUnlock()
	if !exists {
		err = storage.ErrNotFound
		return nil, err
	}
	copied := *record
	return &copied, nil
}

// SetAccessToken persists an issued access token
func (s *Store) SetAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "set_access_token")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "set_access_token", err, start) }()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("access token is required")
		return err
	}

	copied := *token
	s.mu.Lock()
	if _, existed := s.accessTokens[copied.Token]; !existed {
		s.accessTokensCount.Add(1)
	}
	s.accessTokens[copied.Token] = &copied
	s.mu.Unlock()
	s.logger.Debug("Stored access token",
		"token_prefix", util.SafeTruncate(copied.Token, tokenLogLength),
		"client_id", copied.ClientID)
	return nil
}

// CheckRestrictedGrantType reports whether the client may use the grant
// type. A client registered without a grant-type list may use any.
func (s *Store) CheckRestrictedGrantType(ctx context.Context, clientID, grantType string) (bool, error) {
	ctx, span := s.startStorageSpan(ctx, "check_restricted_grant_type")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "check_restricted_grant_type", err, start) }()

	s.mu.RLock()
	client, exists := s.clients[clientID]
	s.mu.RUnlock()
	if !exists {
		return false, nil
	}
	if len(client.GrantTypes) == 0 {
		return true, nil
	}
	for _, allowed := range client.GrantTypes {
		if allowed == grantType {
			return true, nil
		}
	}
	return false, nil
}

// ============================================================
// GrantCode implementation
// ============================================================

// GetAuthCode retrieves and invalidates an authorization code. Deletion
// happens under the write lock, so two concurrent redemptions of the same
// code cannot both succeed.
func (s *Store) GetAuthCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "get_auth_code")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_auth_code", err, start) }()

	s.mu.Lock()
	record, exists := s.authCodes[code]
	if exists {
		delete(s.authCodes, code)
		s.authCodesCount.Add(-1)
	}
	s.mu.Unlock()

	if !exists {
		err = storage.ErrNotFound
		return nil, err
	}
	copied := *record
	return &copied, nil
}

// SetAuthCode persists a newly minted authorization code
func (s *Store) SetAuthCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "set_auth_code")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "set_auth_code", err, start) }()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("authorization code is required")
		return err
	}

	copied := *code
	s.mu.Lock()
	if _, existed := s.authCodes[copied.Code]; !existed {
		s.authCodesCount.Add(1)
	}
	s.authCodes[copied.Code] = &copied
	s.mu.Unlock()
	return nil
}

// ============================================================
// GrantUser implementation
// ============================================================

// CheckUserCredentials validates a resource owner's username and password.
// A nil result rejects the credentials without a backend error.
func (s *Store) CheckUserCredentials(ctx context.Context, clientID, username, password string) (*storage.GrantResult, error) {
	ctx, span := s.startStorageSpan(ctx, "check_user_credentials")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "check_user_credentials", err, start) }()

	s.mu.RLock()
	user, exists := s.users[username]
	s.mu.RUnlock()
	if !exists {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword(user.passwordHash, []byte(password)) != nil {
		return nil, nil
	}
	return &storage.GrantResult{UserID: user.userID, Scope: user.scope}, nil
}

// ============================================================
// GrantClient implementation
// ============================================================

// CheckClientCredentialsGrant resolves the scope a client_credentials
// issuance carries. Credential validity was already established by
// CheckClientCredentials.
func (s *Store) CheckClientCredentialsGrant(ctx context.Context, clientID, clientSecret string) (*storage.GrantResult, error) {
	ctx, span := s.startStorageSpan(ctx, "check_client_credentials_grant")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "check_client_credentials_grant", err, start) }()

	s.mu.RLock()
	client, exists := s.clients[clientID]
	s.mu.RUnlock()
	if !exists {
		return nil, nil
	}
	return &storage.GrantResult{Scope: client.Scope}, nil
}

// ============================================================
// GrantExtension implementation
// ============================================================

// CheckGrantExtension evaluates a registered extension grant. An
// unregistered URI rejects the grant.
func (s *Store) CheckGrantExtension(ctx context.Context, uri string, params url.Values) (*storage.GrantResult, error) {
	ctx, span := s.startStorageSpan(ctx, "check_grant_extension")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "check_grant_extension", err, start) }()

	s.mu.RLock()
	fn, exists := s.extensions[uri]
	s.mu.RUnlock()
	if !exists {
		return nil, nil
	}

	result, err := fn(ctx, params)
	return result, err
}

// ============================================================
// RefreshTokens implementation
// ============================================================

// GetRefreshToken looks up a refresh token
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_refresh_token")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "get_refresh_token", err, start) }()

	s.mu.RLock()
	record, exists := s.refreshTokens[token]
	s.mu.RUnlock()
	if !exists {
		err = storage.ErrNotFound
		return nil, err
	}
	copied := *record
	return &copied, nil
}

// SetRefreshToken persists a newly minted refresh token
func (s *Store) SetRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := s.startStorageSpan(ctx, "set_refresh_token")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "set_refresh_token", err, start) }()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("refresh token is required")
		return err
	}

	copied := *token
	s.mu.Lock()
	if _, existed := s.refreshTokens[copied.Token]; !existed {
		s.refreshTokensCount.Add(1)
	}
	s.refreshTokens[copied.Token] = &copied
	s.mu.Unlock()
	s.logger.Debug("Stored refresh token",
		"token_prefix", util.SafeTruncate(copied.Token, tokenLogLength),
		"client_id", copied.ClientID)
	return nil
}

// UnsetRefreshToken invalidates a refresh token. Unknown tokens are a
// no-op: rotation may race with cleanup of an expired token.
func (s *Store) UnsetRefreshToken(ctx context.Context, token string) error {
	ctx, span := s.startStorageSpan(ctx, "unset_refresh_token")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.recordStorageOperation(ctx, span, "unset_refresh_token", err, start) }()

	s.mu.Lock()
	if _, existed := s.refreshTokens[token]; existed {
		delete(s.refreshTokens, token)
		s.refreshTokensCount.Add(-1)
	}
	s.mu.Unlock()
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// Cleanup removes expired tokens and authorization codes. Called
// periodically by the background loop; exported for tests and manual runs.
func (s *Store) Cleanup() {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	for token, record := range s.accessTokens {
		if record.ExpiresAt.Before(now) {
			delete(s.accessTokens, token)
			s.accessTokensCount.Add(-1)
			removed++
		}
	}
	for token, record := range s.refreshTokens {
		if record.ExpiresAt.Before(now) {
			delete(s.refreshTokens, token)
			s.refreshTokensCount.Add(-1)
			removed++
		}
	}
	for code, record := range s.authCodes {
		if record.ExpiresAt.Before(now) {
			delete(s.authCodes, code)
			s.authCodesCount.Add(-1)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("Cleaned up expired records", "count", removed)
	}
}

// Counts returns the current number of stored access tokens, refresh
// tokens, authorization codes and clients.
func (s *Store) Counts() (accessTokens, refreshTokens, authCodes, clients int64) {
	return s.accessTokensCount.Load(), s.refreshTokensCount.Load(),
		s.authCodesCount.Load(), s.clientsCount.Load()
}

// ============================================================
// Instrumentation helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation. Returns a
// no-op span when instrumentation is not configured.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))
}

// recordStorageOperation records metrics for a storage operation and sets
// the span status.
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, start time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(start).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
