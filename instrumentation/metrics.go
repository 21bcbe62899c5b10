package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the OAuth engine
type Metrics struct {
	// Grant flow metrics
	GrantRequestsTotal metric.Int64Counter
	TokensIssued       metric.Int64Counter
	TokensRefreshed    metric.Int64Counter
	AuthCodesIssued    metric.Int64Counter

	// Resource-server metrics
	TokenVerifications metric.Int64Counter

	// Authorize endpoint metrics
	AuthorizeRequestsTotal metric.Int64Counter

	// HTTP layer metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Security metrics
	RateLimitExceeded metric.Int64Counter

	// Storage metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageAccessTokens      metric.Int64ObservableGauge
	StorageRefreshTokens     metric.Int64ObservableGauge
	StorageAuthCodes         metric.Int64ObservableGauge
	StorageClients           metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	serverMeter := inst.Meter("server")
	httpMeter := inst.Meter("http")
	storageMeter := inst.Meter("storage")
	securityMeter := inst.Meter("security")

	var err error

	m.GrantRequestsTotal, err = serverMeter.Int64Counter(
		"oauth.grant.requests.total",
		metric.WithDescription("Token endpoint requests by grant type and result"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.requests.total counter: %w", err)
	}

	m.TokensIssued, err = serverMeter.Int64Counter(
		"oauth.tokens.issued",
		metric.WithDescription("Access tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.TokensRefreshed, err = serverMeter.Int64Counter(
		"oauth.tokens.refreshed",
		metric.WithDescription("Tokens issued via refresh_token grant"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.refreshed counter: %w", err)
	}

	m.AuthCodesIssued, err = serverMeter.Int64Counter(
		"oauth.auth_codes.issued",
		metric.WithDescription("Authorization codes issued on user consent"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth_codes.issued counter: %w", err)
	}

	m.TokenVerifications, err = serverMeter.Int64Counter(
		"oauth.token.verifications",
		metric.WithDescription("Bearer token verifications by result"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.verifications counter: %w", err)
	}

	m.AuthorizeRequestsTotal, err = serverMeter.Int64Counter(
		"oauth.authorize.requests.total",
		metric.WithDescription("Authorize endpoint validations by result"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorize.requests.total counter: %w", err)
	}

	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oauth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oauth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageAccessTokens, err = storageMeter.Int64ObservableGauge(
		"storage.access_tokens.count",
		metric.WithDescription("Access tokens currently stored"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.access_tokens.count gauge: %w", err)
	}

	m.StorageRefreshTokens, err = storageMeter.Int64ObservableGauge(
		"storage.refresh_tokens.count",
		metric.WithDescription("Refresh tokens currently stored"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.refresh_tokens.count gauge: %w", err)
	}

	m.StorageAuthCodes, err = storageMeter.Int64ObservableGauge(
		"storage.auth_codes.count",
		metric.WithDescription("Authorization codes currently stored"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.auth_codes.count gauge: %w", err)
	}

	m.StorageClients, err = storageMeter.Int64ObservableGauge(
		"storage.clients.count",
		metric.WithDescription("Clients currently registered"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.clients.count gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordGrantRequest records a token endpoint request and its outcome.
// result is "success" or the OAuth error code.
func (m *Metrics) RecordGrantRequest(ctx context.Context, grantType, result string) {
	m.GrantRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("result", result),
	))
}

// RecordTokenIssued records a successful access token issuance
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string, withRefresh bool) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.Bool("refresh_token", withRefresh),
	))
	if grantType == "refresh_token" {
		m.TokensRefreshed.Add(ctx, 1)
	}
}

// RecordAuthCodeIssued records an authorization code issuance
func (m *Metrics) RecordAuthCodeIssued(ctx context.Context, clientID string) {
	m.AuthCodesIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenVerification records a bearer token verification outcome
func (m *Metrics) RecordTokenVerification(ctx context.Context, result string) {
	m.TokenVerifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordAuthorizeRequest records an authorize endpoint validation outcome
func (m *Metrics) RecordAuthorizeRequest(ctx context.Context, responseType, result string) {
	m.AuthorizeRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("response_type", responseType),
		attribute.String("result", result),
	))
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
