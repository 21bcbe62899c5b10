package oauth

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Defaults applied by NewServer when the corresponding Config field is zero.
const (
	// DefaultAccessTokenLifetime is how long access tokens are valid.
	DefaultAccessTokenLifetime = 3600 * time.Second

	// DefaultRefreshTokenLifetime is how long refresh tokens are valid (14 days).
	DefaultRefreshTokenLifetime = 1209600 * time.Second

	// DefaultAuthCodeLifetime is how long authorization codes are valid.
	// Codes are redeemed immediately after the consent redirect, so the
	// window is deliberately short.
	DefaultAuthCodeLifetime = 30 * time.Second

	// DefaultRealm is the WWW-Authenticate realm.
	DefaultRealm = "service"

	// TokenTypeBearer is the only token type currently supported.
	TokenTypeBearer = "bearer"
)

// Config holds the protocol engine configuration. All fields are optional;
// zero values get secure defaults. The config is read-only after
// construction, so concurrent grant and verification calls never contend
// on it.
type Config struct {
	// AccessTokenLifetime is how long issued access tokens remain valid.
	AccessTokenLifetime time.Duration `env:"OAUTH_ACCESS_TOKEN_LIFETIME"`

	// RefreshTokenLifetime is how long issued refresh tokens remain valid.
	RefreshTokenLifetime time.Duration `env:"OAUTH_REFRESH_TOKEN_LIFETIME"`

	// AuthCodeLifetime is how long authorization codes remain redeemable.
	AuthCodeLifetime time.Duration `env:"OAUTH_AUTH_CODE_LIFETIME"`

	// SupportedScopes lists the scopes the authorize endpoint accepts.
	// Empty means any requested scope is allowed.
	SupportedScopes []string `env:"OAUTH_SUPPORTED_SCOPES" envSeparator:" "`

	// TokenType is the token type reported in responses and challenges.
	// Only "bearer" is supported.
	TokenType string `env:"OAUTH_TOKEN_TYPE"`

	// Realm is the WWW-Authenticate realm for verification failures.
	Realm string `env:"OAUTH_REALM"`

	// EnforceRedirect requires a redirect_uri parameter on both the
	// authorize and token (authorization_code grant) steps.
	EnforceRedirect bool `env:"OAUTH_ENFORCE_REDIRECT"`

	// EnforceState requires the state parameter on authorize requests,
	// which clients need for CSRF protection.
	EnforceState bool `env:"OAUTH_ENFORCE_STATE"`

	// ClockSkewGracePeriod extends token expiry checks to absorb clock
	// drift between hosts. Zero means strict expiry.
	ClockSkewGracePeriod time.Duration `env:"OAUTH_CLOCK_SKEW_GRACE"`
}

// applyDefaults fills zero-valued fields and validates the token type.
func (c *Config) applyDefaults() error {
	if c.AccessTokenLifetime == 0 {
		c.AccessTokenLifetime = DefaultAccessTokenLifetime
	}
	if c.RefreshTokenLifetime == 0 {
		c.RefreshTokenLifetime = DefaultRefreshTokenLifetime
	}
	if c.AuthCodeLifetime == 0 {
		c.AuthCodeLifetime = DefaultAuthCodeLifetime
	}
	if c.TokenType == "" {
		c.TokenType = TokenTypeBearer
	}
	if c.TokenType != TokenTypeBearer {
		return fmt.Errorf("unsupported token type %q (only %q is supported)", c.TokenType, TokenTypeBearer)
	}
	if c.Realm == "" {
		c.Realm = DefaultRealm
	}
	if c.ClockSkewGracePeriod < 0 {
		c.ClockSkewGracePeriod = 0
	}
	return nil
}

// ConfigFromEnv builds a Config from OAUTH_* environment variables.
// Unset variables keep their zero values and receive defaults at server
// construction.
func ConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config from environment: %w", err)
	}
	return &cfg, nil
}
