package oauth

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestRequestParam(t *testing.T) {
	req := NewRequest(http.MethodPost)
	req.Query.Set("scope", "query-scope")
	req.Form.Set("scope", "form-scope")
	req.Query.Set("state", "only-query")

	if got := req.Param("scope"); got != "form-scope" {
		t.Errorf("Param(scope) = %q, want body value", got)
	}
	if got := req.Param("state"); got != "only-query" {
		t.Errorf("Param(state) = %q, want query value", got)
	}
	if got := req.Param("missing"); got != "" {
		t.Errorf("Param(missing) = %q, want empty", got)
	}
}

func TestRequestFromHTTP(t *testing.T) {
	form := url.Values{"grant_type": {"password"}, "username": {"alice"}}
	r := httptest.NewRequest(http.MethodPost, "/token?state=xyz",
		strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	r.SetBasicAuth("abc", "s3cr3t")

	req := RequestFromHTTP(r)

	if req.Method != http.MethodPost {
		t.Errorf("Method = %q", req.Method)
	}
	if req.ContentType != "application/x-www-form-urlencoded" {
		t.Errorf("ContentType = %q, want media type without parameters", req.ContentType)
	}
	if req.Form.Get("grant_type") != "password" {
		t.Errorf("Form grant_type = %q", req.Form.Get("grant_type"))
	}
	if req.Query.Get("state") != "xyz" {
		t.Errorf("Query state = %q", req.Query.Get("state"))
	}
	if req.BasicAuth == nil || req.BasicAuth.Username != "abc" || req.BasicAuth.Password != "s3cr3t" {
		t.Errorf("BasicAuth = %+v", req.BasicAuth)
	}
}

func TestRequestFromHTTP_NoBasicAuth(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/authorize?client_id=abc", nil)
	req := RequestFromHTTP(r)

	if req.BasicAuth != nil {
		t.Errorf("BasicAuth = %+v, want nil", req.BasicAuth)
	}
	if req.Query.Get("client_id") != "abc" {
		t.Errorf("Query client_id = %q", req.Query.Get("client_id"))
	}
}
