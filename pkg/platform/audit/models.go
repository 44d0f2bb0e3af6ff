package audit

import (
	"context"
	"time"
)

// Event is emitted from the pipeline to record that something happened.
// It carries operational metadata only: no codes, certificate data or
// attribute values ever appear here.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	ClientID  string    `json:"client_id,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

type AuditEvent string

const (
	EventConsentPrompted     AuditEvent = "consent_prompted"
	EventConsentGranted      AuditEvent = "consent_granted"
	EventConsentDenied       AuditEvent = "consent_denied"
	EventCodeIssued          AuditEvent = "authorization_code_issued"
	EventTokenIssued         AuditEvent = "token_issued"
	EventAuthFailed          AuditEvent = "auth_failed"
	EventRedemptionFailed    AuditEvent = "redemption_failed"
	EventRevocationRefreshed AuditEvent = "revocation_list_refreshed"
)

// Store is the append-only sink behind the publisher.
type Store interface {
	Append(ctx context.Context, event Event) error
}
