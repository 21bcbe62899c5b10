package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/seedworks/oauth2-server/storage"
)

// clientIDPattern is the shape registered client ids must have. Checked
// before any storage lookup so malformed ids never reach the backend.
var clientIDPattern = regexp.MustCompile(`(?i)^[a-z0-9-_]{3,32}$`)

// AuthorizeParams is the validated outcome of an authorize request, handed
// to the consent step and back into GetAuthResult once the user decides.
type AuthorizeParams struct {
	ClientID     string
	ResponseType string
	RedirectURI  string // resolved: input value if given, else the registered URI
	Scope        string
	State        string

	// Client is the registered client record the request resolved to.
	Client *storage.Client
}

// AuthResult is the outcome of a decided authorize request: a redirect back
// to the client application. Query carries the authorization code (and
// state); Fragment carries the token response on the implicit path.
type AuthResult struct {
	RedirectURI string
	Query       url.Values
	Fragment    url.Values
}

// Location composes the full redirect target.
func (r *AuthResult) Location() string {
	return BuildRedirectURI(r.RedirectURI, r.Query, r.Fragment)
}

// GetAuthorizeParams validates an authorize request before user consent.
// Failures prior to redirect-URI validation are *Error values (the URI
// cannot be trusted yet, so redirecting would leak the error to an
// unverified destination); failures after it are *RedirectError values the
// boundary delivers by redirecting the user agent.
func (s *Server) GetAuthorizeParams(ctx context.Context, req *Request) (*AuthorizeParams, error) {
	params, err := s.getAuthorizeParams(ctx, req)

	responseType := req.Param("response_type")
	if m := s.metrics(); m != nil {
		result := "success"
		if err != nil {
			result = errorResult(err)
			var redirErr *RedirectError
			if errors.As(err, &redirErr) {
				result = redirErr.Code
			}
		}
		m.RecordAuthorizeRequest(ctx, responseType, result)
	}
	return params, err
}

func (s *Server) getAuthorizeParams(ctx context.Context, req *Request) (*AuthorizeParams, error) {
	clientID := req.Param("client_id")
	if clientID == "" {
		return nil, ErrInvalidClient("No client id supplied")
	}
	if !clientIDPattern.MatchString(clientID) {
		return nil, ErrInvalidClient("The client id supplied is invalid")
	}

	client, err := s.storage.GetClientDetails(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidClient("The client id supplied is invalid")
		}
		return nil, fmt.Errorf("get client details: %w", err)
	}

	inputRedirect := req.Param("redirect_uri")
	if s.config.EnforceRedirect && inputRedirect == "" {
		return nil, ErrRedirectURIMismatch("The redirect URI is mandatory and was not supplied")
	}
	redirectURI := inputRedirect
	if redirectURI == "" {
		redirectURI = client.RedirectURI
	}
	if redirectURI == "" {
		return nil, ErrRedirectURIMismatch("No redirect URI was supplied or registered")
	}
	if inputRedirect != "" && client.RedirectURI != "" && !ValidateRedirectURI(inputRedirect, client.RedirectURI) {
		return nil, ErrRedirectURIMismatch("The redirect URI provided does not match a registered URI")
	}

	// The redirect URI is trusted from here on; remaining failures go back
	// to the client application instead of the user agent.
	state := req.Param("state")

	responseType := req.Param("response_type")
	switch responseType {
	case "":
		return nil, newRedirectError(redirectURI, ErrorCodeInvalidRequest,
			"The response type was not specified in the request", state)
	case ResponseTypeCode:
		if s.caps.Code == nil {
			return nil, newRedirectError(redirectURI, ErrorCodeUnsupportedResponseType,
				"Authorization codes are not supported by the storage backend", state)
		}
	case ResponseTypeToken:
	default:
		return nil, newRedirectError(redirectURI, ErrorCodeUnsupportedResponseType,
			"An unsupported response type was requested", state)
	}

	scope := req.Param("scope")
	if scope != "" && len(s.config.SupportedScopes) > 0 &&
		!CheckScope(scope, strings.Join(s.config.SupportedScopes, " ")) {
		return nil, newRedirectError(redirectURI, ErrorCodeInvalidScope,
			"An unsupported scope was requested", state)
	}

	if s.config.EnforceState && state == "" {
		return nil, newRedirectError(redirectURI, ErrorCodeInvalidRequest,
			"The state parameter is required", state)
	}

	return &AuthorizeParams{
		ClientID:     clientID,
		ResponseType: responseType,
		RedirectURI:  redirectURI,
		Scope:        scope,
		State:        state,
		Client:       client,
	}, nil
}

// GetAuthResult turns the user's consent decision into the redirect that
// completes the authorize step. A denial becomes an access_denied redirect
// error. An approval mints an authorization code (response_type=code, code
// and state in the query) or an access token (response_type=token, the
// token response in the fragment with state kept in the query part).
func (s *Server) GetAuthResult(ctx context.Context, authorized bool, userID string, params *AuthorizeParams) (*AuthResult, error) {
	if !authorized {
		if s.auditor != nil {
			s.auditor.LogAccessDenied(userID, params.ClientID)
		}
		return nil, newRedirectError(params.RedirectURI, ErrorCodeAccessDenied,
			"The user denied access to your application", params.State)
	}

	result := &AuthResult{RedirectURI: params.RedirectURI, Query: url.Values{}}
	if params.State != "" {
		result.Query.Set("state", params.State)
	}

	switch params.ResponseType {
	case ResponseTypeCode:
		code, err := s.createAuthCode(ctx, params.ClientID, userID, params.RedirectURI, params.Scope)
		if err != nil {
			return nil, err
		}
		result.Query.Set("code", code)
		if s.auditor != nil {
			s.auditor.LogAuthCodeIssued(userID, params.ClientID, params.Scope)
		}
		if m := s.metrics(); m != nil {
			m.RecordAuthCodeIssued(ctx, params.ClientID)
		}

	case ResponseTypeToken:
		resp, err := s.createAccessToken(ctx, params.ClientID, userID, params.Scope, "")
		if err != nil {
			return nil, err
		}
		result.Fragment = url.Values{}
		result.Fragment.Set("access_token", resp.AccessToken)
		result.Fragment.Set("token_type", resp.TokenType)
		result.Fragment.Set("expires_in", strconv.FormatInt(resp.ExpiresIn, 10))
		if resp.Scope != "" {
			result.Fragment.Set("scope", resp.Scope)
		}
		if resp.RefreshToken != "" {
			result.Fragment.Set("refresh_token", resp.RefreshToken)
		}
		if s.auditor != nil {
			s.auditor.LogTokenIssued(userID, params.ClientID, GrantTypeImplicit, params.Scope)
		}
		if m := s.metrics(); m != nil {
			m.RecordTokenIssued(ctx, GrantTypeImplicit, resp.RefreshToken != "")
		}

	default:
		return nil, ErrInvalidRequest("The response type was not specified in the request")
	}

	return result, nil
}

// FinishClientAuthorization validates the authorize request and applies the
// consent decision in one call, for callers that carry the raw request all
// the way through the consent step.
func (s *Server) FinishClientAuthorization(ctx context.Context, authorized bool, userID string, req *Request) (*AuthResult, error) {
	params, err := s.GetAuthorizeParams(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.GetAuthResult(ctx, authorized, userID, params)
}
