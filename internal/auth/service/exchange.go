package service

import (
	"context"
	"encoding/json"
	"time"

	"once/internal/auth/models"
	"once/internal/authcode"
	"once/internal/consent"
	"once/internal/platform/tracer"
	"once/internal/seal"
	"once/internal/token"
	"once/pkg/platform/audit"
	"once/pkg/requestcontext"
)

// Exchange redeems an authorization code. The sealed record is removed from
// the store before decryption is attempted, so a code is consumed by its
// first redemption whether or not that redemption succeeds.
func (s *Service) Exchange(ctx context.Context, req *models.TokenRequest) (*token.Result, error) {
	start := time.Now()
	defer s.observeExchange(start)

	ctx, span := s.tracer.Start(ctx, tracer.SpanExchange,
		tracer.String(tracer.AttrClientID, req.ClientID),
	)

	result, err := s.exchange(ctx, req)
	if err != nil {
		kind, derr := s.translate(ctx, flowExchange, err, req.ClientID)
		span.SetAttributes(tracer.String(tracer.AttrFailureKind, kind))
		span.End(derr)
		return nil, derr
	}
	span.End(nil)
	return result, nil
}

func (s *Service) exchange(ctx context.Context, req *models.TokenRequest) (*token.Result, error) {
	if req.GrantType != models.GrantTypeAuthorizationCode {
		return nil, errUnsupportedGrant
	}
	if _, err := s.clients.Authenticate(ctx, req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}

	code, err := authcode.Parse(req.Code)
	if err != nil {
		return nil, err
	}
	defer code.Zero()

	storageKey := code.StorageKey()
	record, err := s.codes.Take(ctx, storageKey, req.ClientID, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	key, err := code.DeriveKey()
	if err != nil {
		return nil, err
	}
	defer clear(key)

	payload, err := s.sealer.Open(key,
		&seal.Sealed{Nonce: record.Nonce, Ciphertext: record.Ciphertext},
		seal.AssociatedData(storageKey, req.ClientID),
	)
	if err != nil {
		return nil, err
	}
	defer clear(payload)

	var decision consent.Decision
	if err := json.Unmarshal(payload, &decision); err != nil {
		return nil, errDecodeDecision
	}
	if decision.RedirectURI != req.RedirectURI {
		return nil, errRedirectMismatch
	}

	result, err := s.tokens.Issue(ctx, &decision, req.ClientID)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementTokensIssued()
	}
	s.logAudit(ctx, audit.EventTokenIssued, req.ClientID, decision.Scopes,
		"subject_policy", string(decision.SubjectPolicy),
	)
	return result, nil
}
