// Package storage defines the persistence contracts the OAuth engine
// delegates to: clients, access tokens, refresh tokens, and authorization
// codes. The engine holds no durable state of its own; any backend that
// satisfies these interfaces (in-memory, Redis, SQL) can serve it.
package storage

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// ErrNotFound is returned by lookup methods when no record exists for the
// given key. The engine maps it to the appropriate OAuth error; backends
// must return it (possibly wrapped) rather than a nil record.
var ErrNotFound = errors.New("storage: not found")

// Storage is the minimum contract every backend must implement. Grant-type
// specific capabilities are separate interfaces detected once at server
// construction, never per request.
type Storage interface {
	// CheckClientCredentials reports whether the client id and secret are
	// valid. The secret may be empty for public clients.
	CheckClientCredentials(ctx context.Context, clientID, clientSecret string) (bool, error)

	// GetClientDetails retrieves a registered client by id.
	// Returns ErrNotFound if the client does not exist.
	GetClientDetails(ctx context.Context, clientID string) (*Client, error)

	// GetAccessToken looks up a previously issued access token.
	// Returns ErrNotFound if the token does not exist.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// SetAccessToken persists an issued access token.
	SetAccessToken(ctx context.Context, token *AccessToken) error

	// CheckRestrictedGrantType reports whether the client may use the grant type.
	CheckRestrictedGrantType(ctx context.Context, clientID, grantType string) (bool, error)
}

// GrantCode is implemented by backends that support the authorization_code
// grant. Redemption must be effectively single-use: the backend must
// guarantee that two concurrent redemptions of the same code do not both
// succeed (compare-and-delete or equivalent). The engine performs no
// additional locking and treats a second redemption as ErrNotFound.
type GrantCode interface {
	Storage

	// GetAuthCode retrieves and invalidates an authorization code.
	// Returns ErrNotFound if the code does not exist or was already redeemed.
	GetAuthCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// SetAuthCode persists a newly minted authorization code.
	SetAuthCode(ctx context.Context, code *AuthorizationCode) error
}

// GrantUser is implemented by backends that support the resource-owner
// password grant.
type GrantUser interface {
	Storage

	// CheckUserCredentials validates a resource owner's username and
	// password for the given client. A nil result with a nil error means
	// the credentials were rejected; a non-nil error is a backend failure
	// and is surfaced untranslated.
	CheckUserCredentials(ctx context.Context, clientID, username, password string) (*GrantResult, error)
}

// GrantClient is implemented by backends that support the
// client_credentials grant.
type GrantClient interface {
	Storage

	// CheckClientCredentialsGrant validates the client for a direct
	// client_credentials token issuance. Credential validity was already
	// checked by CheckClientCredentials; this resolves the grant's scope
	// and (optional) service account user id.
	CheckClientCredentialsGrant(ctx context.Context, clientID, clientSecret string) (*GrantResult, error)
}

// GrantExtension is implemented by backends that support extension grant
// types identified by absolute URI.
type GrantExtension interface {
	Storage

	// CheckGrantExtension evaluates an extension grant. A nil result with
	// a nil error means the grant was rejected.
	CheckGrantExtension(ctx context.Context, uri string, params url.Values) (*GrantResult, error)
}

// RefreshTokens is implemented by backends that support refresh tokens.
// When a server's storage implements this interface, every successful grant
// also mints a refresh token, and the refresh_token grant becomes available.
type RefreshTokens interface {
	Storage

	// GetRefreshToken looks up a refresh token. Returns ErrNotFound if it
	// does not exist or was invalidated.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// SetRefreshToken persists a newly minted refresh token. During
	// rotation this is always called before UnsetRefreshToken on the prior
	// token, so a crash between the two never leaves the client with zero
	// valid refresh tokens.
	SetRefreshToken(ctx context.Context, token *RefreshToken) error

	// UnsetRefreshToken invalidates a refresh token after rotation.
	UnsetRefreshToken(ctx context.Context, token string) error
}

// GrantResult carries the resolved identity and scope a grant variant
// produced. Scope is the full scope the underlying credential carries; the
// engine narrows it to the requested scope before issuance.
type GrantResult struct {
	UserID string
	Scope  string
}

// Capabilities is the set of optional grant features a backend implements,
// resolved once by Detect at server construction. The engine dispatches on
// these fields rather than doing per-request type assertions.
type Capabilities struct {
	Code      GrantCode
	User      GrantUser
	Client    GrantClient
	Extension GrantExtension
	Refresh   RefreshTokens
}

// Detect inspects a backend and records which capability interfaces it
// implements.
func Detect(s Storage) Capabilities {
	var caps Capabilities
	if c, ok := s.(GrantCode); ok {
		caps.Code = c
	}
	if u, ok := s.(GrantUser); ok {
		caps.User = u
	}
	if c, ok := s.(GrantClient); ok {
		caps.Client = c
	}
	if e, ok := s.(GrantExtension); ok {
		caps.Extension = e
	}
	if r, ok := s.(RefreshTokens); ok {
		caps.Refresh = r
	}
	return caps
}

// Client represents a registered OAuth client. Clients are immutable once
// registered; registration itself happens out of band.
type Client struct {
	ClientID         string
	ClientSecretHash string // bcrypt hash
	RedirectURI      string
	GrantTypes       []string // allowed grant types; empty means all
	Scope            string   // scope granted to client_credentials issuance
}

// AccessToken is an issued bearer access token.
type AccessToken struct {
	Token     string
	ClientID  string
	UserID    string
	ExpiresAt time.Time
	Scope     string
}

// RefreshToken is an issued refresh token. Rotated on use: redeeming one
// mints a replacement and invalidates the original.
type RefreshToken struct {
	Token     string
	ClientID  string
	UserID    string
	ExpiresAt time.Time
	Scope     string
}

// AuthorizationCode is a short-lived single-use credential minted on user
// consent and exchanged for a token.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	UserID      string
	RedirectURI string
	ExpiresAt   time.Time
	Scope       string
}
