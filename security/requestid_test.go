package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if !requestIDPattern.MatchString(id) {
		t.Errorf("generated id %q does not match the accepted pattern", id)
	}
	if id == GenerateRequestID() {
		t.Error("consecutive ids should differ")
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-1")
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		incoming   string
		wantEchoed bool
	}{
		{"valid upstream id preserved", "upstream-id-42", true},
		{"missing id generated", "", false},
		{"malformed id replaced", "bad id with spaces", false},
		{"oversized id replaced", string(make([]byte, 200)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxID string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			echoed := rec.Header().Get(RequestIDHeader)
			if echoed == "" {
				t.Fatal("response is missing the request id header")
			}
			if echoed != ctxID {
				t.Errorf("header id %q differs from context id %q", echoed, ctxID)
			}
			if tt.wantEchoed && echoed != tt.incoming {
				t.Errorf("upstream id %q was replaced with %q", tt.incoming, echoed)
			}
			if !tt.wantEchoed && echoed == tt.incoming {
				t.Errorf("invalid upstream id %q was preserved", tt.incoming)
			}
		})
	}
}
