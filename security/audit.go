// Package security provides supporting security features for the OAuth
// engine: audit logging, per-identifier rate limiting, request correlation,
// and expiry checks.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. User ids are
// hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs a successful grant
func (a *Auditor) LogTokenIssued(userID, clientID, grantType, scope string) {
	a.LogEvent(Event{
		Type:     "token_issued",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogTokenRefreshed logs a refresh-token rotation
func (a *Auditor) LogTokenRefreshed(userID, clientID string) {
	a.LogEvent(Event{
		Type:     "token_refreshed",
		UserID:   userID,
		ClientID: clientID,
	})
}

// LogGrantFailure logs a rejected token request
func (a *Auditor) LogGrantFailure(clientID, grantType, reason string) {
	a.LogEvent(Event{
		Type:     "grant_failure",
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"reason":     reason,
		},
	})
}

// LogVerificationFailure logs a rejected bearer-token presentation
func (a *Auditor) LogVerificationFailure(clientID, reason string) {
	a.LogEvent(Event{
		Type:     "verification_failure",
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAuthCodeIssued logs authorization-code issuance at the consent step
func (a *Auditor) LogAuthCodeIssued(userID, clientID, scope string) {
	a.LogEvent(Event{
		Type:     "auth_code_issued",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogAccessDenied logs a user declining consent
func (a *Auditor) LogAccessDenied(userID, clientID string) {
	a.LogEvent(Event{
		Type:     "access_denied",
		UserID:   userID,
		ClientID: clientID,
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(identifier string) {
	a.LogEvent(Event{
		Type: "rate_limit_exceeded",
		Details: map[string]any{
			"identifier_hash": hashForLogging(identifier),
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
