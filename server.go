// Package oauth implements an OAuth 2.0 authorization-server protocol
// engine: the grant-type state machine of the token endpoint, the authorize
// endpoint validation and result composition, and bearer token verification
// for resource servers. All durable state lives behind the storage package;
// the engine itself performs no I/O beyond storage calls and is safe for
// concurrent use.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/seedworks/oauth2-server/instrumentation"
	"github.com/seedworks/oauth2-server/security"
	"github.com/seedworks/oauth2-server/storage"
)

// Grant type identifiers the token endpoint dispatches on. Any other value
// is accepted only if it is an absolute URI naming an extension grant.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypePassword          = "password"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"

	// GrantTypeImplicit is the implicit grant's token-endpoint identifier,
	// the same value as the authorize endpoint's token response type. It is
	// never honored at the token endpoint; implicit issuance happens only
	// through the authorize endpoint's fragment response.
	GrantTypeImplicit = "token"
)

// Response types accepted by the authorize endpoint.
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// Server is the protocol engine. It holds no per-request state; every
// authorize, grant and verification call is independent, so calls may run
// concurrently across goroutines.
type Server struct {
	storage storage.Storage
	caps    storage.Capabilities
	config  *Config
	logger  *slog.Logger
	auditor *security.Auditor
	inst    *instrumentation.Instrumentation
	now     func() time.Time
}

// NewServer creates a protocol engine on top of a storage backend. The
// backend's optional grant capabilities are detected here, once; a backend
// gaining capabilities later requires constructing a new server.
func NewServer(store storage.Storage, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if config == nil {
		config = &Config{}
	}
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		storage: store,
		caps:    storage.Detect(store),
		config:  config,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.auditor = aud
}

// SetInstrumentation sets the OpenTelemetry instrumentation
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// Config returns the effective configuration after defaulting.
func (s *Server) Config() *Config {
	return s.config
}

// Capabilities reports which optional grant features the backend supports.
func (s *Server) Capabilities() storage.Capabilities {
	return s.caps
}

func (s *Server) metrics() *instrumentation.Metrics {
	if s.inst == nil {
		return nil
	}
	return s.inst.Metrics()
}

// grantOutcome is what a grant variant resolves before issuance: the
// identity and scope the credential carries, plus the refresh token that was
// redeemed (refresh_token grant only) so rotation can invalidate it after
// its replacement is stored.
type grantOutcome struct {
	userID      string
	scope       string
	usedRefresh string
}

// GrantAccessToken is the token endpoint's state machine. It validates the
// grant type, authenticates the client, runs the grant-specific checks,
// narrows scope, and issues a token. Failures are returned as *Error values;
// the first failed gate wins and nothing is persisted on failure. Storage
// failures are returned untranslated for the boundary to map to a 5xx.
func (s *Server) GrantAccessToken(ctx context.Context, req *Request) (*TokenResponse, error) {
	grantType := req.Param("grant_type")

	resp, err := s.grantAccessToken(ctx, req, grantType)
	if err != nil {
		s.recordGrant(ctx, grantType, errorResult(err))
		var oauthErr *Error
		if errors.As(err, &oauthErr) {
			s.logger.Debug("grant rejected",
				"grant_type", grantType,
				"error", oauthErr.Code,
				"description", oauthErr.Description)
			if s.auditor != nil {
				s.auditor.LogGrantFailure(req.Param("client_id"), grantType, oauthErr.Code)
			}
		}
		return nil, err
	}

	s.recordGrant(ctx, grantType, "success")
	if m := s.metrics(); m != nil {
		m.RecordTokenIssued(ctx, grantType, resp.RefreshToken != "")
	}
	return resp, nil
}

func (s *Server) grantAccessToken(ctx context.Context, req *Request, grantType string) (*TokenResponse, error) {
	if grantType == "" {
		return nil, ErrInvalidRequest("The grant type was not specified in the request")
	}
	if !isKnownGrantType(grantType) {
		return nil, ErrInvalidRequest("Invalid grant_type parameter or parameter missing")
	}

	clientID, clientSecret, err := clientCredentials(req)
	if err != nil {
		return nil, err
	}

	ok, serr := s.storage.CheckClientCredentials(ctx, clientID, clientSecret)
	if serr != nil {
		return nil, fmt.Errorf("check client credentials: %w", serr)
	}
	if !ok {
		return nil, ErrInvalidClient("The client credentials are invalid")
	}

	ok, serr = s.storage.CheckRestrictedGrantType(ctx, clientID, grantType)
	if serr != nil {
		return nil, fmt.Errorf("check restricted grant type: %w", serr)
	}
	if !ok {
		return nil, ErrUnauthorizedClient("The grant type is unauthorized for this client_id")
	}

	outcome, err := s.runGrant(ctx, req, grantType, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	// Narrow to the requested scope when one was asked for. The issued
	// scope is always a subset of what the credential carries.
	scope := outcome.scope
	if requested := req.Param("scope"); requested != "" {
		if !CheckScope(requested, outcome.scope) {
			return nil, ErrInvalidScope("An unsupported scope was requested")
		}
		scope = requested
	}

	resp, err := s.createAccessToken(ctx, clientID, outcome.userID, scope, outcome.usedRefresh)
	if err != nil {
		return nil, err
	}

	if s.auditor != nil {
		s.auditor.LogTokenIssued(outcome.userID, clientID, grantType, scope)
		if grantType == GrantTypeRefreshToken {
			s.auditor.LogTokenRefreshed(outcome.userID, clientID)
		}
	}
	return resp, nil
}

// runGrant dispatches to the grant variant. The capability set was resolved
// at construction; a missing capability fails as unsupported_grant_type.
func (s *Server) runGrant(ctx context.Context, req *Request, grantType, clientID, clientSecret string) (*grantOutcome, error) {
	switch grantType {
	case GrantTypeAuthorizationCode:
		return s.grantAuthorizationCode(ctx, req, clientID)
	case GrantTypePassword:
		return s.grantPassword(ctx, req, clientID)
	case GrantTypeClientCredentials:
		return s.grantClientCredentials(ctx, clientID, clientSecret)
	case GrantTypeRefreshToken:
		return s.grantRefreshToken(ctx, req, clientID)
	case GrantTypeImplicit:
		return nil, ErrNotImplemented("The implicit grant type is handled by the authorize endpoint only")
	default:
		return s.grantExtension(ctx, req, grantType)
	}
}

func (s *Server) grantAuthorizationCode(ctx context.Context, req *Request, clientID string) (*grantOutcome, error) {
	if s.caps.Code == nil {
		return nil, ErrUnsupportedGrantType("The authorization_code grant type is not supported by the storage backend")
	}

	code := req.Param("code")
	if code == "" {
		return nil, ErrInvalidRequest(`Missing parameter. "code" is required`)
	}
	redirectURI := req.Param("redirect_uri")
	if s.config.EnforceRedirect && redirectURI == "" {
		return nil, ErrInvalidRequest("The redirect URI parameter is required")
	}

	stored, err := s.caps.Code.GetAuthCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant("Authorization code doesn't exist or is invalid for the client")
		}
		return nil, fmt.Errorf("get authorization code: %w", err)
	}
	if stored.ClientID != clientID {
		return nil, ErrInvalidGrant("Authorization code doesn't exist or is invalid for the client")
	}
	if redirectURI != "" && !ValidateRedirectURI(redirectURI, stored.RedirectURI) {
		return nil, ErrRedirectURIMismatch("The redirect URI is missing or does not match")
	}
	if security.IsExpired(stored.ExpiresAt, s.config.ClockSkewGracePeriod) {
		return nil, ErrInvalidGrant("The authorization code has expired")
	}

	return &grantOutcome{userID: stored.UserID, scope: stored.Scope}, nil
}

func (s *Server) grantPassword(ctx context.Context, req *Request, clientID string) (*grantOutcome, error) {
	if s.caps.User == nil {
		return nil, ErrUnsupportedGrantType("The password grant type is not supported by the storage backend")
	}

	username := req.Param("username")
	password := req.Param("password")
	if username == "" || password == "" {
		return nil, ErrInvalidRequest(`Missing parameters. "username" and "password" are required`)
	}

	result, err := s.caps.User.CheckUserCredentials(ctx, clientID, username, password)
	if err != nil {
		return nil, fmt.Errorf("check user credentials: %w", err)
	}
	if result == nil {
		return nil, ErrInvalidGrant("Invalid username and password combination")
	}
	return &grantOutcome{userID: result.UserID, scope: result.Scope}, nil
}

func (s *Server) grantClientCredentials(ctx context.Context, clientID, clientSecret string) (*grantOutcome, error) {
	if s.caps.Client == nil {
		return nil, ErrUnsupportedGrantType("The client_credentials grant type is not supported by the storage backend")
	}
	if clientSecret == "" {
		return nil, ErrInvalidClient(`The client_secret is mandatory for the "client_credentials" grant type`)
	}

	result, err := s.caps.Client.CheckClientCredentialsGrant(ctx, clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("check client credentials grant: %w", err)
	}
	if result == nil {
		return nil, ErrInvalidGrant("The client credentials grant was rejected")
	}
	return &grantOutcome{userID: result.UserID, scope: result.Scope}, nil
}

func (s *Server) grantRefreshToken(ctx context.Context, req *Request, clientID string) (*grantOutcome, error) {
	if s.caps.Refresh == nil {
		return nil, ErrUnsupportedGrantType("The refresh_token grant type is not supported by the storage backend")
	}

	token := req.Param("refresh_token")
	if token == "" {
		return nil, ErrInvalidRequest(`No "refresh_token" parameter found`)
	}

	stored, err := s.caps.Refresh.GetRefreshToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant("Invalid refresh token")
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	// Bind the token to the authenticated client, not whatever client_id
	// the body claims.
	if stored.ClientID != clientID {
		return nil, ErrInvalidGrant("Invalid refresh token")
	}
	if security.IsExpired(stored.ExpiresAt, s.config.ClockSkewGracePeriod) {
		return nil, ErrInvalidGrant("Refresh token has expired")
	}

	return &grantOutcome{userID: stored.UserID, scope: stored.Scope, usedRefresh: token}, nil
}

func (s *Server) grantExtension(ctx context.Context, req *Request, grantURI string) (*grantOutcome, error) {
	if s.caps.Extension == nil {
		return nil, ErrUnsupportedGrantType("The extension grant type is not supported by the storage backend")
	}

	result, err := s.caps.Extension.CheckGrantExtension(ctx, grantURI, mergedParams(req))
	if err != nil {
		return nil, fmt.Errorf("check grant extension: %w", err)
	}
	if result == nil {
		return nil, ErrInvalidGrant("The extension grant was rejected")
	}
	return &grantOutcome{userID: result.UserID, scope: result.Scope}, nil
}

// VerifyAccessToken validates a presented bearer token for a resource
// server. requiredScope may be empty. The failure ladder is fixed: missing
// token (400), unknown token (401), malformed record (401), expired (401),
// insufficient scope (403). Every failure carries the required scope so a
// complete WWW-Authenticate challenge can be composed.
func (s *Server) VerifyAccessToken(ctx context.Context, token, requiredScope string) (*storage.AccessToken, error) {
	record, err := s.verifyAccessToken(ctx, token, requiredScope)
	if err != nil {
		var oauthErr *Error
		if errors.As(err, &oauthErr) {
			s.recordVerification(ctx, oauthErr.Code)
			if s.auditor != nil {
				clientID := ""
				if record != nil {
					clientID = record.ClientID
				}
				s.auditor.LogVerificationFailure(clientID, oauthErr.Code)
			}
		}
		return nil, err
	}
	s.recordVerification(ctx, "success")
	return record, nil
}

func (s *Server) verifyAccessToken(ctx context.Context, token, requiredScope string) (*storage.AccessToken, error) {
	if token == "" {
		return nil, errTokenInvalidRequest(requiredScope)
	}

	record, err := s.storage.GetAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errTokenUnauthorized("The access token provided is invalid.", requiredScope)
		}
		return nil, fmt.Errorf("get access token: %w", err)
	}
	if record.ExpiresAt.IsZero() || record.ClientID == "" {
		return record, errTokenUnauthorized("Malformed token (missing expiry or client id).", requiredScope)
	}
	if security.IsExpired(record.ExpiresAt, s.config.ClockSkewGracePeriod) {
		return record, errTokenUnauthorized("The access token provided has expired.", requiredScope)
	}
	if requiredScope != "" && !CheckScope(requiredScope, record.Scope) {
		return record, errInsufficientScope(requiredScope)
	}

	return record, nil
}

// GetBearerToken extracts a presented access token from a request. Exactly
// one of the Authorization header, a POST body parameter, or a GET query
// parameter must carry it; zero or more than one source is invalid_request.
func (s *Server) GetBearerToken(req *Request) (string, error) {
	headerToken, err := bearerFromHeader(req.AuthorizationHeader)
	if err != nil {
		return "", err
	}
	formToken := req.Form.Get("access_token")
	queryToken := req.Query.Get("access_token")

	sources := 0
	for _, t := range []string{headerToken, formToken, queryToken} {
		if t != "" {
			sources++
		}
	}
	if sources == 0 {
		return "", errTokenInvalidRequest("")
	}
	if sources > 1 {
		return "", errTokenInvalidRequest("")
	}

	if formToken != "" {
		if !strings.EqualFold(req.Method, "POST") {
			return "", errTokenInvalidRequest("")
		}
		if req.ContentType != "application/x-www-form-urlencoded" {
			return "", errTokenInvalidRequest("")
		}
		return formToken, nil
	}
	if headerToken != "" {
		return headerToken, nil
	}
	return queryToken, nil
}

// bearerFromHeader parses an Authorization header of the form
// "Bearer <token>". An empty header yields an empty token; a header with a
// different scheme is ignored rather than rejected, so Basic-authenticated
// token requests can still carry the token in the body.
func bearerFromHeader(header string) (string, error) {
	if header == "" {
		return "", nil
	}
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", nil
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", errTokenInvalidRequest("")
	}
	return token, nil
}

// clientCredentials extracts the client id and secret, preferring HTTP
// Basic authentication over body parameters.
func clientCredentials(req *Request) (clientID, clientSecret string, err error) {
	if req.BasicAuth != nil {
		return req.BasicAuth.Username, req.BasicAuth.Password, nil
	}
	clientID = req.Param("client_id")
	if clientID == "" {
		return "", "", ErrInvalidClient("Client id was not found in the headers or body")
	}
	return clientID, req.Param("client_secret"), nil
}

// isKnownGrantType reports whether the grant type is one of the registered
// identifiers or an extension grant named by absolute URI.
func isKnownGrantType(grantType string) bool {
	switch grantType {
	case GrantTypeAuthorizationCode, GrantTypePassword, GrantTypeClientCredentials,
		GrantTypeRefreshToken, GrantTypeImplicit:
		return true
	}
	return isAbsoluteURI(grantType)
}

// mergedParams flattens a request's body and query parameters for extension
// grant delegates, body values winning on collision.
func mergedParams(req *Request) url.Values {
	merged := url.Values{}
	for k, v := range req.Query {
		merged[k] = v
	}
	for k, v := range req.Form {
		merged[k] = v
	}
	return merged
}

func (s *Server) recordGrant(ctx context.Context, grantType, result string) {
	if m := s.metrics(); m != nil {
		m.RecordGrantRequest(ctx, grantType, result)
	}
}

func (s *Server) recordVerification(ctx context.Context, result string) {
	if m := s.metrics(); m != nil {
		m.RecordTokenVerification(ctx, result)
	}
}

// errorResult maps an error to a metric result label.
func errorResult(err error) string {
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr.Code
	}
	return "storage_error"
}
