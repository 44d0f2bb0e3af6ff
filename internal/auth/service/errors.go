package service

import (
	"context"
	"errors"

	"once/internal/auth/metrics"
	"once/internal/authcode"
	"once/internal/certificate"
	"once/internal/client"
	"once/internal/consent"
	"once/internal/seal"
	"once/internal/store"
	"once/internal/token"
	dErrors "once/pkg/domain-errors"
)

// Every redemption failure is reported to the relying party with this message,
// so responses never reveal whether a code existed, expired or was bound elsewhere.
const invalidCodeMessage = "invalid authorization code"

const (
	flowAuthorize = metrics.FlowAuthorize
	flowExchange  = metrics.FlowExchange
)

var (
	errRedirectMismatch = errors.New("redirect uri differs from authorization")
	errDecodeDecision   = errors.New("sealed decision could not be decoded")
	errUnsupportedGrant = errors.New("unsupported grant type")
)

// errorMapping translates a component error into a domain error.
type errorMapping struct {
	sentinel error
	code     dErrors.Code
	message  string // empty = use err.Error()
	kind     string
	isError  bool
}

// authorizeErrorMappings are checked in order; first match wins.
var authorizeErrorMappings = []errorMapping{
	{certificate.ErrMalformed, dErrors.CodeCertificateMalformed, "client certificate is malformed", "certificate_malformed", false},
	{certificate.ErrRejected, dErrors.CodeCertificateRejected, "client certificate rejected", "certificate_rejected", false},
	{consent.ErrUnsupportedScope, dErrors.CodeInvalidScope, "", "unsupported_scope", false},
	{consent.ErrMissingAttribute, dErrors.CodeInvalidScope, "certificate does not carry an attribute required by the requested scopes", "missing_attribute", false},
	{consent.ErrInvalidTicket, dErrors.CodeInvalidRequest, "invalid or expired consent ticket", "invalid_ticket", false},
	{client.ErrUnknownClient, dErrors.CodeInvalidRequest, "unknown client", "unknown_client", false},
	{client.ErrRedirectMismatch, dErrors.CodeInvalidRequest, "redirect_uri is not registered for this client", "redirect_mismatch", false},
	{client.ErrScopeNotAllowed, dErrors.CodeInvalidScope, "requested scope is not allowed for this client", "scope_not_allowed", false},
	{store.ErrDuplicateKey, dErrors.CodeInternal, "authorization failed", "duplicate_code", true},
}

// exchangeErrorMappings are checked in order; first match wins.
var exchangeErrorMappings = []errorMapping{
	{errUnsupportedGrant, dErrors.CodeUnsupportedGrantType, "grant_type must be authorization_code", "unsupported_grant_type", false},
	{client.ErrUnknownClient, dErrors.CodeInvalidClient, "client authentication failed", "unknown_client", false},
	{client.ErrAuthenticationFailed, dErrors.CodeInvalidClient, "client authentication failed", "client_authentication", false},
	{authcode.ErrMalformed, dErrors.CodeInvalidGrant, invalidCodeMessage, "malformed_code", false},
	{store.ErrCodeNotFound, dErrors.CodeInvalidGrant, invalidCodeMessage, "code_not_found", false},
	{store.ErrClientMismatch, dErrors.CodeInvalidGrant, invalidCodeMessage, "client_binding", false},
	{token.ErrClientBinding, dErrors.CodeInvalidGrant, invalidCodeMessage, "client_binding", false},
	{seal.ErrIntegrity, dErrors.CodeInvalidGrant, invalidCodeMessage, "payload_integrity", false},
	{errRedirectMismatch, dErrors.CodeInvalidGrant, invalidCodeMessage, "redirect_mismatch", false},
	{errDecodeDecision, dErrors.CodeInternal, "token exchange failed", "decode_decision", true},
	{token.ErrUnknownClaim, dErrors.CodeInvariantViolation, "token exchange failed", "unknown_claim", true},
}

// translate maps err exactly once, records the failure and returns the
// failure kind plus the domain error.
func (s *Service) translate(ctx context.Context, flow string, err error, clientID string) (string, error) {
	if err == nil {
		return "", nil
	}

	mappings := authorizeErrorMappings
	fallback := "authorization failed"
	if flow == flowExchange {
		mappings = exchangeErrorMappings
		fallback = "token exchange failed"
	}

	for _, m := range mappings {
		if errors.Is(err, m.sentinel) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			s.failure(ctx, flow, m.kind, m.isError, clientID, err)
			return m.kind, &dErrors.Error{Code: m.code, Message: msg, Err: err}
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.failure(ctx, flow, "unavailable", false, clientID, err)
		return "unavailable", &dErrors.Error{Code: dErrors.CodeUnavailable, Message: "service temporarily unavailable", Err: err}
	}

	s.failure(ctx, flow, "internal_error", true, clientID, err)
	return "internal_error", &dErrors.Error{Code: dErrors.CodeInternal, Message: fallback, Err: err}
}
