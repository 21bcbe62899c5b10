package oauth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/seedworks/oauth2-server/storage"
	"github.com/seedworks/oauth2-server/storage/mock"
)

func TestVerifyAccessToken(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		record     *storage.AccessToken
		token      string
		scope      string
		wantCode   string
		wantStatus int
	}{
		{
			name: "valid token",
			record: &storage.AccessToken{
				Token: "t1", ClientID: "abc", UserID: "u1",
				ExpiresAt: now.Add(time.Hour), Scope: "read write",
			},
			token: "t1",
		},
		{
			name: "valid token with scope subset",
			record: &storage.AccessToken{
				Token: "t2", ClientID: "abc",
				ExpiresAt: now.Add(time.Hour), Scope: "read write",
			},
			token: "t2",
			scope: "read",
		},
		{
			name:       "missing token",
			token:      "",
			wantCode:   ErrorCodeInvalidRequest,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown token",
			token:      "missing",
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "expired token",
			record: &storage.AccessToken{
				Token: "t3", ClientID: "abc",
				ExpiresAt: now.Add(-time.Minute), Scope: "read",
			},
			token:      "t3",
			scope:      "read",
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "malformed record without client id",
			record: &storage.AccessToken{
				Token: "t4", ExpiresAt: now.Add(time.Hour),
			},
			token:      "t4",
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "malformed record without expiry",
			record: &storage.AccessToken{
				Token: "t5", ClientID: "abc",
			},
			token:      "t5",
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "insufficient scope",
			record: &storage.AccessToken{
				Token: "t6", ClientID: "abc",
				ExpiresAt: now.Add(time.Hour), Scope: "read",
			},
			token:      "t6",
			scope:      "write",
			wantCode:   ErrorCodeInsufficientScope,
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.NewStore()
			if tt.record != nil {
				store.AccessTokens[tt.record.Token] = tt.record
			}
			srv := newTestServer(t, store, nil)

			record, err := srv.VerifyAccessToken(context.Background(), tt.token, tt.scope)
			if tt.wantCode != "" {
				oauthErr := assertOAuthError(t, err, tt.wantCode, tt.wantStatus)
				if oauthErr.Scope != tt.scope {
					t.Errorf("error scope = %q, want %q", oauthErr.Scope, tt.scope)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyAccessToken() error = %v", err)
			}
			if record.Token != tt.token {
				t.Errorf("record token = %q, want %q", record.Token, tt.token)
			}
		})
	}
}

func TestVerifyAccessToken_ClockSkewGrace(t *testing.T) {
	store := mock.NewStore()
	store.AccessTokens["t1"] = &storage.AccessToken{
		Token: "t1", ClientID: "abc",
		ExpiresAt: time.Now().Add(-2 * time.Second), Scope: "read",
	}
	srv := newTestServer(t, store, &Config{ClockSkewGracePeriod: 10 * time.Second})

	if _, err := srv.VerifyAccessToken(context.Background(), "t1", ""); err != nil {
		t.Errorf("token within grace period rejected: %v", err)
	}
}

func TestGetBearerToken(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*Request)
		wantToken   string
		wantFailure bool
	}{
		{
			name: "authorization header",
			setup: func(r *Request) {
				r.AuthorizationHeader = "Bearer tok123"
			},
			wantToken: "tok123",
		},
		{
			name: "post body",
			setup: func(r *Request) {
				r.Method = http.MethodPost
				r.ContentType = "application/x-www-form-urlencoded"
				r.Form.Set("access_token", "tok123")
			},
			wantToken: "tok123",
		},
		{
			name: "query parameter",
			setup: func(r *Request) {
				r.Method = http.MethodGet
				r.Query.Set("access_token", "tok123")
			},
			wantToken: "tok123",
		},
		{
			name:        "no source",
			setup:       func(r *Request) {},
			wantFailure: true,
		},
		{
			name: "both query and body",
			setup: func(r *Request) {
				r.Method = http.MethodPost
				r.ContentType = "application/x-www-form-urlencoded"
				r.Form.Set("access_token", "tok123")
				r.Query.Set("access_token", "tok123")
			},
			wantFailure: true,
		},
		{
			name: "header and query",
			setup: func(r *Request) {
				r.AuthorizationHeader = "Bearer tok123"
				r.Query.Set("access_token", "tok123")
			},
			wantFailure: true,
		},
		{
			name: "body token on GET",
			setup: func(r *Request) {
				r.Method = http.MethodGet
				r.ContentType = "application/x-www-form-urlencoded"
				r.Form.Set("access_token", "tok123")
			},
			wantFailure: true,
		},
		{
			name: "body token with wrong content type",
			setup: func(r *Request) {
				r.Method = http.MethodPost
				r.ContentType = "application/json"
				r.Form.Set("access_token", "tok123")
			},
			wantFailure: true,
		},
		{
			name: "empty bearer header",
			setup: func(r *Request) {
				r.AuthorizationHeader = "Bearer "
			},
			wantFailure: true,
		},
		{
			name: "basic auth header is not a bearer source",
			setup: func(r *Request) {
				r.AuthorizationHeader = "Basic dXNlcjpwYXNz"
				r.Query.Set("access_token", "tok123")
			},
			wantToken: "tok123",
		},
	}

	srv := newTestServer(t, mock.NewStore(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest(http.MethodGet)
			tt.setup(req)

			token, err := srv.GetBearerToken(req)
			if tt.wantFailure {
				assertOAuthError(t, err, ErrorCodeInvalidRequest, http.StatusBadRequest)
				return
			}
			if err != nil {
				t.Fatalf("GetBearerToken() error = %v", err)
			}
			if token != tt.wantToken {
				t.Errorf("token = %q, want %q", token, tt.wantToken)
			}
		})
	}
}
