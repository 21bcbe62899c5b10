package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/seedworks/oauth2-server/storage"
)

const (
	// tokenLength is the length of issued access tokens, refresh tokens
	// and authorization codes.
	tokenLength = 40

	// tokenEntropyBytes is how much random material each token is derived
	// from before hashing.
	tokenEntropyBytes = 100
)

// generateToken returns an unguessable opaque token. Authorization codes,
// access tokens and refresh tokens all share this generator.
func generateToken() (string, error) {
	b := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	sum := sha512.Sum512(b)
	return hex.EncodeToString(sum[:])[:tokenLength], nil
}

// TokenResponse is the success payload of the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// createAccessToken mints and persists a new access token, plus a refresh
// token when the store supports them. usedRefreshToken is the refresh token
// that was redeemed to reach this point, if any; it is invalidated only
// after its replacement has been durably stored, so a storage failure
// mid-rotation never strands the client with no valid refresh token.
func (s *Server) createAccessToken(ctx context.Context, clientID, userID, scope, usedRefreshToken string) (*TokenResponse, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.storage.SetAccessToken(ctx, &storage.AccessToken{
		Token:     token,
		ClientID:  clientID,
		UserID:    userID,
		ExpiresAt: now.Add(s.config.AccessTokenLifetime),
		Scope:     scope,
	}); err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}

	resp := &TokenResponse{
		AccessToken: token,
		ExpiresIn:   int64(s.config.AccessTokenLifetime.Seconds()),
		TokenType:   s.config.TokenType,
		Scope:       scope,
	}

	if s.caps.Refresh != nil {
		refresh, err := generateToken()
		if err != nil {
			return nil, err
		}
		if err := s.caps.Refresh.SetRefreshToken(ctx, &storage.RefreshToken{
			Token:     refresh,
			ClientID:  clientID,
			UserID:    userID,
			ExpiresAt: now.Add(s.config.RefreshTokenLifetime),
			Scope:     scope,
		}); err != nil {
			return nil, fmt.Errorf("failed to store refresh token: %w", err)
		}
		resp.RefreshToken = refresh

		if usedRefreshToken != "" && usedRefreshToken != refresh {
			if err := s.caps.Refresh.UnsetRefreshToken(ctx, usedRefreshToken); err != nil {
				return nil, fmt.Errorf("failed to invalidate used refresh token: %w", err)
			}
		}
	}

	return resp, nil
}

// createAuthCode mints and persists a new authorization code bound to the
// client, user, redirect URI and scope of the approving request.
func (s *Server) createAuthCode(ctx context.Context, clientID, userID, redirectURI, scope string) (string, error) {
	code, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := s.caps.Code.SetAuthCode(ctx, &storage.AuthorizationCode{
		Code:        code,
		ClientID:    clientID,
		UserID:      userID,
		RedirectURI: redirectURI,
		ExpiresAt:   s.now().Add(s.config.AuthCodeLifetime),
		Scope:       scope,
	}); err != nil {
		return "", fmt.Errorf("failed to store authorization code: %w", err)
	}
	return code, nil
}
