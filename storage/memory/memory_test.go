package memory

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/seedworks/oauth2-server/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewWithInterval(time.Hour)
	t.Cleanup(s.Stop)
	return s
}

func registerTestClient(t *testing.T, s *Store) {
	t.Helper()
	err := s.RegisterClient(&storage.Client{
		ClientID:    "abc",
		RedirectURI: "https://app.example/cb",
		GrantTypes:  []string{"authorization_code", "password"},
		Scope:       "read",
	}, "s3cr3t")
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
}

func TestCheckClientCredentials(t *testing.T) {
	s := newTestStore(t)
	registerTestClient(t, s)
	if err := s.RegisterClient(&storage.Client{ClientID: "public-app"}, ""); err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	tests := []struct {
		name     string
		clientID string
		secret   string
		want     bool
	}{
		{"valid credentials", "abc", "s3cr3t", true},
		{"wrong secret", "abc", "nope", false},
		{"empty secret for confidential client", "abc", "", false},
		{"unknown client", "ghost", "s3cr3t", false},
		{"public client with empty secret", "public-app", "", true},
		{"public client with a secret", "public-app", "surprise", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CheckClientCredentials(context.Background(), tt.clientID, tt.secret)
			if err != nil {
				t.Fatalf("CheckClientCredentials() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CheckClientCredentials() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetClientDetails(t *testing.T) {
	s := newTestStore(t)
	registerTestClient(t, s)

	client, err := s.GetClientDetails(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetClientDetails() error = %v", err)
	}
	if client.RedirectURI != "https://app.example/cb" {
		t.Errorf("RedirectURI = %q", client.RedirectURI)
	}
	if client.ClientSecretHash == "" {
		t.Error("secret hash not stored")
	}
	if client.ClientSecretHash == "s3cr3t" {
		t.Error("secret stored in plaintext")
	}

	// Mutating the returned record must not affect the store.
	client.RedirectURI = "https://evil.example"
	again, _ := s.GetClientDetails(context.Background(), "abc")
	if again.RedirectURI != "https://app.example/cb" {
		t.Error("returned record aliases stored record")
	}

	_, err = s.GetClientDetails(context.Background(), "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCheckRestrictedGrantType(t *testing.T) {
	s := newTestStore(t)
	registerTestClient(t, s)
	if err := s.RegisterClient(&storage.Client{ClientID: "open-client"}, "x"); err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	tests := []struct {
		name      string
		clientID  string
		grantType string
		want      bool
	}{
		{"allowed grant", "abc", "password", true},
		{"restricted grant", "abc", "client_credentials", false},
		{"no restriction list allows all", "open-client", "client_credentials", true},
		{"unknown client", "ghost", "password", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CheckRestrictedGrantType(context.Background(), tt.clientID, tt.grantType)
			if err != nil {
				t.Fatalf("CheckRestrictedGrantType() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CheckRestrictedGrantType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthCodeSingleUse(t *testing.T) {
	s := newTestStore(t)
	code := &storage.AuthorizationCode{
		Code: "c1", ClientID: "abc", UserID: "u1",
		ExpiresAt: time.Now().Add(30 * time.Second),
	}
	if err := s.SetAuthCode(context.Background(), code); err != nil {
		t.Fatalf("SetAuthCode() error = %v", err)
	}

	got, err := s.GetAuthCode(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetAuthCode() error = %v", err)
	}
	if got.UserID != "u1" {
		t.Errorf("UserID = %q", got.UserID)
	}

	// Redemption invalidates.
	_, err = s.GetAuthCode(context.Background(), "c1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second redemption error = %v, want ErrNotFound", err)
	}
}

func TestUserCredentials(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetUser("alice", "wonderland", "u1", "read write"); err != nil {
		t.Fatalf("SetUser() error = %v", err)
	}

	result, err := s.CheckUserCredentials(context.Background(), "abc", "alice", "wonderland")
	if err != nil {
		t.Fatalf("CheckUserCredentials() error = %v", err)
	}
	if result == nil || result.UserID != "u1" || result.Scope != "read write" {
		t.Errorf("result = %+v", result)
	}

	result, err = s.CheckUserCredentials(context.Background(), "abc", "alice", "wrong")
	if err != nil {
		t.Fatalf("CheckUserCredentials() error = %v", err)
	}
	if result != nil {
		t.Errorf("wrong password accepted: %+v", result)
	}

	result, err = s.CheckUserCredentials(context.Background(), "abc", "ghost", "pw")
	if err != nil || result != nil {
		t.Errorf("unknown user: result = %+v, err = %v", result, err)
	}
}

func TestClientCredentialsGrant(t *testing.T) {
	s := newTestStore(t)
	registerTestClient(t, s)

	result, err := s.CheckClientCredentialsGrant(context.Background(), "abc", "s3cr3t")
	if err != nil {
		t.Fatalf("CheckClientCredentialsGrant() error = %v", err)
	}
	if result == nil || result.Scope != "read" {
		t.Errorf("result = %+v, want client scope", result)
	}

	result, err = s.CheckClientCredentialsGrant(context.Background(), "ghost", "x")
	if err != nil || result != nil {
		t.Errorf("unknown client: result = %+v, err = %v", result, err)
	}
}

func TestGrantExtension(t *testing.T) {
	s := newTestStore(t)
	s.RegisterGrantExtension("https://grants.example/device",
		func(ctx context.Context, params url.Values) (*storage.GrantResult, error) {
			if params.Get("device_code") == "d1" {
				return &storage.GrantResult{UserID: "u1", Scope: "read"}, nil
			}
			return nil, nil
		})

	result, err := s.CheckGrantExtension(context.Background(),
		"https://grants.example/device", url.Values{"device_code": {"d1"}})
	if err != nil {
		t.Fatalf("CheckGrantExtension() error = %v", err)
	}
	if result == nil || result.UserID != "u1" {
		t.Errorf("result = %+v", result)
	}

	result, err = s.CheckGrantExtension(context.Background(),
		"https://grants.example/unregistered", nil)
	if err != nil || result != nil {
		t.Errorf("unregistered extension: result = %+v, err = %v", result, err)
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	token := &storage.RefreshToken{
		Token: "r1", ClientID: "abc", UserID: "u1",
		ExpiresAt: time.Now().Add(time.Hour), Scope: "read",
	}
	if err := s.SetRefreshToken(context.Background(), token); err != nil {
		t.Fatalf("SetRefreshToken() error = %v", err)
	}

	got, err := s.GetRefreshToken(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetRefreshToken() error = %v", err)
	}
	if got.UserID != "u1" {
		t.Errorf("UserID = %q", got.UserID)
	}

	if err := s.UnsetRefreshToken(context.Background(), "r1"); err != nil {
		t.Fatalf("UnsetRefreshToken() error = %v", err)
	}
	if _, err := s.GetRefreshToken(context.Background(), "r1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("error after unset = %v, want ErrNotFound", err)
	}

	// Unsetting again is a no-op.
	if err := s.UnsetRefreshToken(context.Background(), "r1"); err != nil {
		t.Errorf("second UnsetRefreshToken() error = %v", err)
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	token := &storage.AccessToken{
		Token: "t1", ClientID: "abc", UserID: "u1",
		ExpiresAt: time.Now().Add(time.Hour), Scope: "read",
	}
	if err := s.SetAccessToken(context.Background(), token); err != nil {
		t.Fatalf("SetAccessToken() error = %v", err)
	}

	got, err := s.GetAccessToken(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if got.ClientID != "abc" || got.Scope != "read" {
		t.Errorf("record = %+v", got)
	}

	if _, err := s.GetAccessToken(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.SetAccessToken(ctx, &storage.AccessToken{Token: "live", ClientID: "abc", ExpiresAt: now.Add(time.Hour)})
	_ = s.SetAccessToken(ctx, &storage.AccessToken{Token: "dead", ClientID: "abc", ExpiresAt: now.Add(-time.Hour)})
	_ = s.SetRefreshToken(ctx, &storage.RefreshToken{Token: "dead-r", ClientID: "abc", ExpiresAt: now.Add(-time.Hour)})
	_ = s.SetAuthCode(ctx, &storage.AuthorizationCode{Code: "dead-c", ClientID: "abc", ExpiresAt: now.Add(-time.Hour)})

	s.Cleanup()

	if _, err := s.GetAccessToken(ctx, "live"); err != nil {
		t.Errorf("live token removed: %v", err)
	}
	if _, err := s.GetAccessToken(ctx, "dead"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("expired access token survived cleanup")
	}
	if _, err := s.GetRefreshToken(ctx, "dead-r"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("expired refresh token survived cleanup")
	}
	if _, err := s.GetAuthCode(ctx, "dead-c"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("expired auth code survived cleanup")
	}

	accessTokens, refreshTokens, authCodes, _ := s.Counts()
	if accessTokens != 1 || refreshTokens != 0 || authCodes != 0 {
		t.Errorf("Counts() = %d %d %d, want 1 0 0", accessTokens, refreshTokens, authCodes)
	}
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)
	registerTestClient(t, s)
	ctx := context.Background()

	_ = s.SetAccessToken(ctx, &storage.AccessToken{Token: "t1", ClientID: "abc", ExpiresAt: time.Now().Add(time.Hour)})
	_ = s.SetAccessToken(ctx, &storage.AccessToken{Token: "t1", ClientID: "abc", ExpiresAt: time.Now().Add(time.Hour)})

	accessTokens, _, _, clients := s.Counts()
	if accessTokens != 1 {
		t.Errorf("access token count = %d, want 1 (overwrite is not a new entry)", accessTokens)
	}
	if clients != 1 {
		t.Errorf("client count = %d, want 1", clients)
	}
}

func TestCapabilityDetection(t *testing.T) {
	s := newTestStore(t)
	caps := storage.Detect(s)

	if caps.Code == nil || caps.User == nil || caps.Client == nil ||
		caps.Extension == nil || caps.Refresh == nil {
		t.Errorf("memory store should expose every capability, got %+v", caps)
	}
}
