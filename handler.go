package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/seedworks/oauth2-server/security"
	"github.com/seedworks/oauth2-server/storage"
)

// Handler is the HTTP boundary around the protocol engine. The engine
// itself never touches a ResponseWriter; this adapter turns its error
// values into wire responses and its results into redirects and JSON.
type Handler struct {
	server      *Server
	logger      *slog.Logger
	rateLimiter *security.RateLimiter
	tracer      trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}
	if server.inst != nil {
		h.tracer = server.inst.Tracer("http")
	}
	return h
}

// SetRateLimiter enables per-client-IP rate limiting on the token and
// authorize endpoints.
func (h *Handler) SetRateLimiter(rl *security.RateLimiter) {
	h.rateLimiter = rl
}

type contextKey string

const tokenContextKey contextKey = "oauth.access_token"

// ContextWithToken stores a verified access token record in a context.
func ContextWithToken(ctx context.Context, token *storage.AccessToken) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenFromContext retrieves the verified access token record placed by
// RequireToken, or nil.
func TokenFromContext(ctx context.Context) *storage.AccessToken {
	token, _ := ctx.Value(tokenContextKey).(*storage.AccessToken)
	return token
}

// ServeToken is the token endpoint. POST only; responses are JSON with
// Cache-Control: no-store as the draft requires.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	defer func() { h.recordHTTP(r, "/token", sw.status, start) }()

	if h.tracer != nil {
		ctx, span := h.tracer.Start(r.Context(), "oauth.http.token")
		defer span.End()
		r = r.WithContext(ctx)
	}

	if r.Method != http.MethodPost {
		http.Error(sw, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.allow(sw, r, "/token") {
		return
	}

	resp, err := h.server.GrantAccessToken(r.Context(), RequestFromHTTP(r))
	if err != nil {
		h.writeEngineError(sw, err)
		return
	}
	h.writeTokenResponse(sw, resp)
}

// ServeAuthorize validates an authorize request and hands the resolved
// parameters to the consent step. On failure it writes the appropriate
// response itself (a direct error or an error redirect) and returns nil.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) *AuthorizeParams {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	defer func() { h.recordHTTP(r, "/authorize", sw.status, start) }()

	if h.tracer != nil {
		ctx, span := h.tracer.Start(r.Context(), "oauth.http.authorize")
		defer span.End()
		r = r.WithContext(ctx)
	}

	if !h.allow(sw, r, "/authorize") {
		return nil
	}

	params, err := h.server.GetAuthorizeParams(r.Context(), RequestFromHTTP(r))
	if err != nil {
		h.writeEngineError(sw, err)
		return nil
	}
	return params
}

// FinishAuthorization applies the user's consent decision and redirects the
// user agent back to the client application, carrying either the grant
// result or an error.
func (h *Handler) FinishAuthorization(w http.ResponseWriter, r *http.Request, authorized bool, userID string, params *AuthorizeParams) {
	result, err := h.server.GetAuthResult(r.Context(), authorized, userID, params)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	http.Redirect(w, r, result.Location(), http.StatusFound)
}

// RequireToken wraps a resource handler with bearer token verification.
// requiredScope may be empty. On success the verified token record is
// available via TokenFromContext.
func (h *Handler) RequireToken(requiredScope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := RequestFromHTTP(r)

		token, err := h.server.GetBearerToken(req)
		if err != nil {
			h.writeVerificationError(w, err, requiredScope)
			return
		}

		record, err := h.server.VerifyAccessToken(r.Context(), token, requiredScope)
		if err != nil {
			h.writeVerificationError(w, err, requiredScope)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithToken(r.Context(), record)))
	})
}

// writeTokenResponse writes a successful token issuance. Token responses
// must never be cached by intermediaries (RFC 6749 section 5.1).
func (h *Handler) writeTokenResponse(w http.ResponseWriter, resp *TokenResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	_ = json.NewEncoder(w).Encode(resp)
}

// writeEngineError dispatches on the engine's two failure channels: direct
// protocol errors become JSON responses, redirectable authorize errors
// become 302s back to the validated client URI. Anything else is a storage
// failure and maps to 503 temporarily_unavailable.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	var redirErr *RedirectError
	if errors.As(err, &redirErr) {
		w.Header().Set("Location", redirErr.RedirectURL())
		w.WriteHeader(http.StatusFound)
		return
	}

	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		h.writeError(w, oauthErr)
		return
	}

	h.logger.Error("storage failure", "error", err)
	h.writeError(w, NewError("temporarily_unavailable",
		"The authorization server is temporarily unable to handle the request", http.StatusServiceUnavailable))
}

// writeVerificationError writes a resource-server-side failure with the
// WWW-Authenticate challenge the draft requires on 401 and 403.
func (h *Handler) writeVerificationError(w http.ResponseWriter, err error, requiredScope string) {
	var oauthErr *Error
	if !errors.As(err, &oauthErr) {
		h.logger.Error("storage failure", "error", err)
		h.writeError(w, NewError("temporarily_unavailable",
			"The authorization server is temporarily unable to handle the request", http.StatusServiceUnavailable))
		return
	}
	if oauthErr.Scope == "" {
		oauthErr.Scope = requiredScope
	}
	h.writeError(w, oauthErr)
}

func (h *Handler) writeError(w http.ResponseWriter, oauthErr *Error) {
	if oauthErr.Status == http.StatusUnauthorized || oauthErr.Status == http.StatusForbidden {
		cfg := h.server.config
		w.Header().Set("WWW-Authenticate", oauthErr.WWWAuthenticate(cfg.TokenType, cfg.Realm))
	}

	body := map[string]string{
		"error":             oauthErr.Code,
		"error_description": oauthErr.Description,
	}
	if oauthErr.Scope != "" {
		body["scope"] = oauthErr.Scope
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(body)
}

// allow applies the per-IP rate limit. Returns false after writing the
// response when the request is rejected.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	if h.rateLimiter == nil {
		return true
	}
	ip := clientIP(r)
	if h.rateLimiter.Allow(ip) {
		return true
	}

	if m := h.server.metrics(); m != nil {
		m.RecordRateLimitExceeded(r.Context(), endpoint)
	}
	if h.server.auditor != nil {
		h.server.auditor.LogRateLimitExceeded(ip)
	}
	h.writeError(w, NewError("temporarily_unavailable",
		"Too many requests. Please try again later", http.StatusServiceUnavailable))
	return false
}

func (h *Handler) recordHTTP(r *http.Request, endpoint string, status int, start time.Time) {
	if m := h.server.metrics(); m != nil {
		if status == 0 {
			status = http.StatusOK
		}
		m.RecordHTTPRequest(r.Context(), r.Method, endpoint, status, float64(time.Since(start).Milliseconds()))
	}
}

// statusWriter captures the status code written to the underlying
// ResponseWriter so HTTP metrics carry the real outcome. An unset status
// means the handler wrote a body without an explicit WriteHeader, which
// net/http treats as 200.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// clientIP extracts the peer address without consulting proxy headers,
// which are spoofable unless a trusted proxy chain is configured upstream.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
