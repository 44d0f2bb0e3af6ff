package service

import (
	"context"
	"time"

	"once/pkg/platform/audit"
	"once/pkg/requestcontext"
)

// Observability helpers. Nothing logged or audited here may carry a code,
// certificate material or attribute value.

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, clientID string, scopes []string, attributes ...any) {
	requestID := requestcontext.RequestID(ctx)
	args := append(attributes,
		"event", string(event),
		"client_id", clientID,
		"request_id", requestID,
		"log_type", "audit",
	)
	s.logger.InfoContext(ctx, string(event), args...)

	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:    string(event),
		ClientID:  clientID,
		Scopes:    scopes,
		Decision:  decisionFor(event),
		RequestID: requestID,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event", "error", err, "event", string(event))
	}
}

func decisionFor(event audit.AuditEvent) string {
	switch event {
	case audit.EventConsentGranted, audit.EventCodeIssued, audit.EventTokenIssued:
		return "granted"
	case audit.EventConsentDenied:
		return "denied"
	default:
		return ""
	}
}

// failure records one pipeline failure: log line, audit event and metric.
// The underlying error is only logged for internal failures.
func (s *Service) failure(ctx context.Context, flow, kind string, isError bool, clientID string, err error) {
	requestID := requestcontext.RequestID(ctx)
	args := []any{
		"event", string(failureEvent(flow)),
		"flow", flow,
		"reason", kind,
		"client_id", clientID,
		"client_ip", requestcontext.ClientIP(ctx),
		"request_id", requestID,
	}
	if isError {
		s.logger.ErrorContext(ctx, string(failureEvent(flow)), append(args, "error", err)...)
	} else {
		s.logger.WarnContext(ctx, string(failureEvent(flow)), args...)
	}

	if s.metrics != nil {
		s.metrics.IncrementFailure(flow, kind)
	}

	if s.auditPublisher == nil {
		return
	}
	if emitErr := s.auditPublisher.Emit(ctx, audit.Event{
		Action:    string(failureEvent(flow)),
		ClientID:  clientID,
		Decision:  "denied",
		Reason:    kind,
		RequestID: requestID,
	}); emitErr != nil {
		s.logger.ErrorContext(ctx, "failed to emit failure audit event", "error", emitErr)
	}
}

func failureEvent(flow string) audit.AuditEvent {
	if flow == flowExchange {
		return audit.EventRedemptionFailed
	}
	return audit.EventAuthFailed
}

func (s *Service) observeAuthorize(step string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveAuthorizeDuration(step, time.Since(start))
	}
}

func (s *Service) observeExchange(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveExchangeDuration(time.Since(start))
	}
}
