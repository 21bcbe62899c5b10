package oauth

import (
	"mime"
	"net/http"
	"net/url"
)

// BasicAuth carries client credentials supplied via HTTP Basic authentication.
type BasicAuth struct {
	Username string
	Password string
}

// Request is an explicit snapshot of everything the engine reads from an
// HTTP request. Validators and the grant state machine receive it as a
// value; nothing in the engine touches ambient process or transport state.
type Request struct {
	// Method is the HTTP method the request arrived with.
	Method string

	// ContentType is the media type of the request body, without parameters.
	ContentType string

	// Query holds the URL query parameters.
	Query url.Values

	// Form holds the parsed request body parameters (empty for GET).
	Form url.Values

	// AuthorizationHeader is the raw Authorization header value, if any.
	AuthorizationHeader string

	// BasicAuth holds decoded Basic credentials, or nil if none were sent.
	BasicAuth *BasicAuth
}

// Param returns a request parameter, preferring the body over the query,
// matching the draft's guidance that token requests use POST.
func (r *Request) Param(name string) string {
	if v := r.Form.Get(name); v != "" {
		return v
	}
	return r.Query.Get(name)
}

// NewRequest builds an empty engine request with the given method. Mostly
// useful in tests; HTTP callers use RequestFromHTTP.
func NewRequest(method string) *Request {
	return &Request{
		Method: method,
		Query:  url.Values{},
		Form:   url.Values{},
	}
}

// RequestFromHTTP captures the parts of an http.Request the engine needs.
// The body is parsed as a form; ParseForm failures leave Form empty rather
// than failing, mirroring how missing parameters are reported as protocol
// errors downstream.
func RequestFromHTTP(r *http.Request) *Request {
	req := &Request{
		Method:              r.Method,
		ContentType:         mediaType(r.Header.Get("Content-Type")),
		Query:               r.URL.Query(),
		Form:                url.Values{},
		AuthorizationHeader: r.Header.Get("Authorization"),
	}

	if err := r.ParseForm(); err == nil {
		req.Form = r.PostForm
	}

	if user, pass, ok := r.BasicAuth(); ok {
		req.BasicAuth = &BasicAuth{Username: user, Password: pass}
	}

	return req
}

// mediaType strips parameters like "; charset=utf-8" from a Content-Type value.
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	return mt
}
