// Package mock provides mock implementations of the storage interfaces for
// testing. Every method delegates to an overridable func field, and call
// counts are tracked per method.
package mock

import (
	"context"
	"net/url"
	"sync"

	"github.com/seedworks/oauth2-server/storage"
)

// Store is a mock implementation of the base Storage interface. It
// implements none of the optional grant capabilities, which makes it useful
// for testing capability-absence behavior; use FullStore for the rest.
type Store struct {
	mu sync.Mutex

	Clients      map[string]*storage.Client
	Secrets      map[string]string // client id -> plaintext secret
	AccessTokens map[string]*storage.AccessToken

	CheckClientCredentialsFunc   func(ctx context.Context, clientID, clientSecret string) (bool, error)
	GetClientDetailsFunc         func(ctx context.Context, clientID string) (*storage.Client, error)
	GetAccessTokenFunc           func(ctx context.Context, token string) (*storage.AccessToken, error)
	SetAccessTokenFunc           func(ctx context.Context, token *storage.AccessToken) error
	CheckRestrictedGrantTypeFunc func(ctx context.Context, clientID, grantType string) (bool, error)

	CallCounts map[string]int
}

var _ storage.Storage = (*Store)(nil)

// NewStore creates a mock store with in-memory default behavior.
func NewStore() *Store {
	return &Store{
		Clients:      make(map[string]*storage.Client),
		Secrets:      make(map[string]string),
		AccessTokens: make(map[string]*storage.AccessToken),
		CallCounts:   make(map[string]int),
	}
}

// AddClient registers a client with a plaintext secret for credential checks.
func (m *Store) AddClient(client *storage.Client, secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Clients[client.ClientID] = client
	m.Secrets[client.ClientID] = secret
}

func (m *Store) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}

func (m *Store) CheckClientCredentials(ctx context.Context, clientID, clientSecret string) (bool, error) {
	m.count("CheckClientCredentials")
	if m.CheckClientCredentialsFunc != nil {
		return m.CheckClientCredentialsFunc(ctx, clientID, clientSecret)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	secret, ok := m.Secrets[clientID]
	if !ok {
		return false, nil
	}
	return secret == clientSecret, nil
}

func (m *Store) GetClientDetails(ctx context.Context, clientID string) (*storage.Client, error) {
	m.count("GetClientDetails")
	if m.GetClientDetailsFunc != nil {
		return m.GetClientDetailsFunc(ctx, clientID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.Clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return client, nil
}

func (m *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	m.count("GetAccessToken")
	if m.GetAccessTokenFunc != nil {
		return m.GetAccessTokenFunc(ctx, token)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.AccessTokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return record, nil
}

func (m *Store) SetAccessToken(ctx context.Context, token *storage.AccessToken) error {
	m.count("SetAccessToken")
	if m.SetAccessTokenFunc != nil {
		return m.SetAccessTokenFunc(ctx, token)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AccessTokens[token.Token] = token
	return nil
}

func (m *Store) CheckRestrictedGrantType(ctx context.Context, clientID, grantType string) (bool, error) {
	m.count("CheckRestrictedGrantType")
	if m.CheckRestrictedGrantTypeFunc != nil {
		return m.CheckRestrictedGrantTypeFunc(ctx, clientID, grantType)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.Clients[clientID]
	if !ok {
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

// FullStore is a mock implementation of every storage interface, including
// all optional grant capabilities.
type FullStore struct {
	*Store

	AuthCodes     map[string]*storage.AuthorizationCode
	RefreshTokens map[string]*storage.RefreshToken
	Users         map[string]*storage.GrantResult // "username:password" -> result

	GetAuthCodeFunc                 func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	SetAuthCodeFunc                 func(ctx context.Context, code *storage.AuthorizationCode) error
	CheckUserCredentialsFunc        func(ctx context.Context, clientID, username, password string) (*storage.GrantResult, error)
	CheckClientCredentialsGrantFunc func(ctx context.Context, clientID, clientSecret string) (*storage.GrantResult, error)
	CheckGrantExtensionFunc         func(ctx context.Context, uri string, params url.Values) (*storage.GrantResult, error)
	GetRefreshTokenFunc             func(ctx context.Context, token string) (*storage.RefreshToken, error)
	SetRefreshTokenFunc             func(ctx context.Context, token *storage.RefreshToken) error
	UnsetRefreshTokenFunc           func(ctx context.Context, token string) error
}

var (
	_ storage.GrantCode      = (*FullStore)(nil)
	_ storage.GrantUser      = (*FullStore)(nil)
	_ storage.GrantClient    = (*FullStore)(nil)
	_ storage.GrantExtension = (*FullStore)(nil)
	_ storage.RefreshTokens  = (*FullStore)(nil)
)

// NewFullStore creates a mock store implementing every capability.
func NewFullStore() *FullStore {
	return &FullStore{
		Store:         NewStore(),
		AuthCodes:     make(map[string]*storage.AuthorizationCode),
		RefreshTokens: make(map[string]*storage.RefreshToken),
		Users:         make(map[string]*storage.GrantResult),
	}
}

// AddUser registers a resource owner for the password grant defaults.
func (m *FullStore) AddUser(username, password string, result *storage.GrantResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Users[username+":"+password] = result
}

func (m *FullStore) GetAuthCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.count("GetAuthCode")
	if m.GetAuthCodeFunc != nil {
		return m.GetAuthCodeFunc(ctx, code)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.AuthCodes[code]
	if !ok {
		return nil, storage.ErrNotFound
	}
	// Single-use: redemption invalidates.
	delete(m.AuthCodes, code)
	return record, nil
}

func (m *FullStore) SetAuthCode(ctx context.Context, code *storage.AuthorizationCode) error {
	m.count("SetAuthCode")
	if m.SetAuthCodeFunc != nil {
		return m.SetAuthCodeFunc(ctx, code)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AuthCodes[code.Code] = code
	return nil
}

func (m *FullStore) CheckUserCredentials(ctx context.Context, clientID, username, password string) (*storage.GrantResult, error) {
	m.count("CheckUserCredentials")
	if m.CheckUserCredentialsFunc != nil {
		return m.CheckUserCredentialsFunc(ctx, clientID, username, password)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Users[username+":"+password], nil
}

func (m *FullStore) CheckClientCredentialsGrant(ctx context.Context, clientID, clientSecret string) (*storage.GrantResult, error) {
	m.count("CheckClientCredentialsGrant")
	if m.CheckClientCredentialsGrantFunc != nil {
		return m.CheckClientCredentialsGrantFunc(ctx, clientID, clientSecret)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.Clients[clientID]
	if !ok {
		return nil, nil
	}
	return &storage.GrantResult{Scope: client.Scope}, nil
}

func (m *FullStore) CheckGrantExtension(ctx context.Context, uri string, params url.Values) (*storage.GrantResult, error) {
	m.count("CheckGrantExtension")
	if m.CheckGrantExtensionFunc != nil {
		return m.CheckGrantExtensionFunc(ctx, uri, params)
	}
	return nil, nil
}

func (m *FullStore) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	m.count("GetRefreshToken")
	if m.GetRefreshTokenFunc != nil {
		return m.GetRefreshTokenFunc(ctx, token)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.RefreshTokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return record, nil
}

func (m *FullStore) SetRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	m.count("SetRefreshToken")
	if m.SetRefreshTokenFunc != nil {
		return m.SetRefreshTokenFunc(ctx, token)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefreshTokens[token.Token] = token
	return nil
}

func (m *FullStore) UnsetRefreshToken(ctx context.Context, token string) error {
	m.count("UnsetRefreshToken")
	if m.UnsetRefreshTokenFunc != nil {
		return m.UnsetRefreshTokenFunc(ctx, token)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.RefreshTokens, token)
	return nil
}
