package oauth

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeRedirectURIMismatch     = "redirect_uri_mismatch"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"

	// ErrorCodeInsufficientScope is the resource-server-side scope failure.
	// The wire value is "invalid_scope" per the draft; the distinct constant
	// exists because it maps to 403 rather than 400.
	ErrorCodeInsufficientScope = "invalid_scope"
)

// Error is a terminal OAuth protocol failure. It is a pure value: the engine
// never writes it to a transport, callers (or Handler) decide how to emit it.
type Error struct {
	Code        string // OAuth error code (e.g. "invalid_request")
	Description string // Human-readable error description
	Status      int    // HTTP status code
	Scope       string // Scope that was required, for WWW-Authenticate
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WWWAuthenticate builds the RFC 6750 challenge header value for 401/403
// responses, e.g. `Bearer realm="service", error="invalid_grant",
// error_description="..."`.
func (e *Error) WWWAuthenticate(tokenType, realm string) string {
	var b strings.Builder
	b.WriteString(titleCase(tokenType))
	b.WriteString(` realm="`)
	b.WriteString(realm)
	b.WriteString(`"`)
	if e.Code != "" {
		fmt.Fprintf(&b, `, error=%q`, e.Code)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, `, error_description=%q`, e.Description)
	}
	if e.Scope != "" {
		fmt.Fprintf(&b, `, scope=%q`, e.Scope)
	}
	return b.String()
}

// titleCase uppercases the first letter, so a configured "bearer" token type
// yields the canonical "Bearer" auth scheme.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// NewError creates a new OAuth error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *Error {
		return NewError(ErrorCodeInvalidClient, desc, http.StatusBadRequest)
	}

	// ErrUnauthorizedClient indicates the client is not authorized for the requested grant type
	ErrUnauthorizedClient = func(desc string) *Error {
		return NewError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrRedirectURIMismatch indicates the redirect URI does not match the registered value
	ErrRedirectURIMismatch = func(desc string) *Error {
		return NewError(ErrorCodeRedirectURIMismatch, desc, http.StatusBadRequest)
	}

	// ErrInvalidScope indicates the requested scope is invalid or unsupported
	ErrInvalidScope = func(desc string) *Error {
		return NewError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization grant (code, credentials,
	// or refresh token) is invalid, expired, or issued to another client
	ErrInvalidGrant = func(desc string) *Error {
		return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported by storage
	ErrUnsupportedGrantType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrNotImplemented is raised for the implicit grant at the token endpoint,
	// which only issues tokens via the authorize-endpoint fragment response
	ErrNotImplemented = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusNotImplemented)
	}
)

// Verification errors carry the required scope so the resource server can
// compose a complete WWW-Authenticate challenge.

// errTokenInvalidRequest is the 400 branch of token verification.
func errTokenInvalidRequest(scope string) *Error {
	return &Error{
		Code:        ErrorCodeInvalidRequest,
		Description: "The request is missing a required parameter; includes an unsupported parameter or parameter value; repeats the same parameter; uses more than one method for including an access token; or is otherwise malformed.",
		Status:      http.StatusBadRequest,
		Scope:       scope,
	}
}

// errTokenUnauthorized is a 401 invalid_grant verification failure.
func errTokenUnauthorized(description, scope string) *Error {
	return &Error{
		Code:        ErrorCodeInvalidGrant,
		Description: description,
		Status:      http.StatusUnauthorized,
		Scope:       scope,
	}
}

// errInsufficientScope is the 403 branch of token verification.
func errInsufficientScope(scope string) *Error {
	return &Error{
		Code:        ErrorCodeInsufficientScope,
		Description: "The request requires different privileges than provided by the access token.",
		Status:      http.StatusForbidden,
		Scope:       scope,
	}
}

// RedirectError is an authorize-endpoint failure that occurs after the
// redirect URI has been validated. It is delivered to the client application
// by redirecting the user agent, never as a direct HTTP error; failures
// before redirect-URI validation use *Error instead because redirecting
// would send the error to an unverified destination.
type RedirectError struct {
	RedirectURI string
	Code        string
	Description string
	State       string
}

// Error implements the error interface
func (e *RedirectError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// RedirectURL composes the full redirect location carrying error,
// error_description, and state as query parameters.
func (e *RedirectError) RedirectURL() string {
	q := url.Values{}
	q.Set("error", e.Code)
	if e.Description != "" {
		q.Set("error_description", e.Description)
	}
	if e.State != "" {
		q.Set("state", e.State)
	}
	return BuildRedirectURI(e.RedirectURI, q, nil)
}

// newRedirectError creates a redirectable authorize failure
func newRedirectError(redirectURI, code, description, state string) *RedirectError {
	return &RedirectError{
		RedirectURI: redirectURI,
		Code:        code,
		Description: description,
		State:       state,
	}
}
