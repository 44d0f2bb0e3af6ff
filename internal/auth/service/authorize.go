package service

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"once/internal/auth/models"
	"once/internal/authcode"
	"once/internal/client"
	"once/internal/consent"
	"once/internal/platform/tracer"
	"once/internal/seal"
	"once/internal/store"
	"once/pkg/platform/audit"
	"once/pkg/requestcontext"
)

// Prepare validates the presented certificate and the relying party's request
// and returns the consent prompt. Nothing is stored on this step.
func (s *Service) Prepare(ctx context.Context, chain []*x509.Certificate, req *models.AuthorizeRequest) (*models.ConsentPrompt, error) {
	start := time.Now()
	defer s.observeAuthorize("prepare", start)

	ctx, span := s.tracer.Start(ctx, tracer.SpanAuthorizePrepare,
		tracer.String(tracer.AttrClientID, req.ClientID),
		tracer.Int(tracer.AttrScopeCount, len(req.Scopes)),
	)

	prompt, err := s.prepare(ctx, chain, req)
	if err != nil {
		kind, derr := s.translate(ctx, flowAuthorize, err, req.ClientID)
		span.SetAttributes(tracer.String(tracer.AttrFailureKind, kind))
		span.End(derr)
		return nil, derr
	}
	span.SetAttributes(tracer.String(tracer.AttrSubjectPolicy, prompt.SubjectPolicy))
	span.End(nil)
	return prompt, nil
}

func (s *Service) prepare(ctx context.Context, chain []*x509.Certificate, req *models.AuthorizeRequest) (*models.ConsentPrompt, error) {
	identity, err := s.certs.Validate(ctx, chain)
	if err != nil {
		return nil, err
	}
	// Undeclared scopes are rejected before the client allow list is consulted.
	if err := consent.CheckScopes(req.Scopes); err != nil {
		return nil, err
	}
	rp, err := s.clients.ResolveAuthorize(ctx, req.ClientID, req.RedirectURI, req.Scopes)
	if err != nil {
		return nil, err
	}

	scopeReq := consent.ScopeRequest{
		ClientID:    rp.ID,
		RedirectURI: req.RedirectURI,
		Scopes:      req.Scopes,
		State:       req.State,
		Nonce:       req.Nonce,
	}
	prompt, err := s.negotiator.Prepare(ctx, identity, scopeReq)
	if err != nil {
		return nil, err
	}
	ticket, err := s.tickets.Issue(ctx, scopeReq, identity.Thumbprint)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementConsentPrompts()
	}
	s.logAudit(ctx, audit.EventConsentPrompted, rp.ID, req.Scopes,
		"subject_policy", string(prompt.SubjectPolicy),
	)
	return promptView(rp, prompt, ticket, s.tickets.TTL()), nil
}

func promptView(rp *client.Client, prompt *consent.Prompt, ticket string, ttl time.Duration) *models.ConsentPrompt {
	scopes := make([]models.ScopeView, 0, len(prompt.Scopes))
	for _, def := range prompt.Scopes {
		scopes = append(scopes, models.ScopeView{Name: def.Name, Description: def.Description})
	}
	claims := prompt.ClaimNames
	if claims == nil {
		claims = []string{}
	}
	return &models.ConsentPrompt{
		ClientID:      rp.ID,
		ClientName:    rp.Name,
		Scopes:        scopes,
		Claims:        claims,
		SubjectPolicy: string(prompt.SubjectPolicy),
		Ticket:        ticket,
		ExpiresIn:     int64(ttl / time.Second),
	}
}

// Decide applies the user's answer to a consent ticket. The same certificate
// that obtained the ticket must be presented again. Approval seals the
// decision under a fresh single-use code; denial redirects with access_denied.
func (s *Service) Decide(ctx context.Context, chain []*x509.Certificate, req *models.DecisionRequest) (*models.Redirect, error) {
	start := time.Now()
	defer s.observeAuthorize("decide", start)

	ctx, span := s.tracer.Start(ctx, tracer.SpanAuthorizeDecide,
		tracer.Bool(tracer.AttrApproved, req.Approve),
	)

	redirect, clientID, err := s.decide(ctx, chain, req)
	if err != nil {
		kind, derr := s.translate(ctx, flowAuthorize, err, clientID)
		span.SetAttributes(tracer.String(tracer.AttrFailureKind, kind))
		span.End(derr)
		return nil, derr
	}
	span.SetAttributes(tracer.String(tracer.AttrClientID, clientID))
	span.End(nil)
	return redirect, nil
}

func (s *Service) decide(ctx context.Context, chain []*x509.Certificate, req *models.DecisionRequest) (*models.Redirect, string, error) {
	identity, err := s.certs.Validate(ctx, chain)
	if err != nil {
		return nil, "", err
	}
	ticket, err := s.tickets.Verify(ctx, req.Ticket, identity.Thumbprint)
	if err != nil {
		return nil, "", err
	}
	scopeReq := &ticket.ScopeRequest
	clientID := scopeReq.ClientID
	if _, err := s.clients.ResolveAuthorize(ctx, clientID, scopeReq.RedirectURI, scopeReq.Scopes); err != nil {
		return nil, clientID, err
	}

	// A ticket answers exactly once, whichever way.
	if err := s.codes.ConsumeTicket(ctx, ticket.ID, ticket.ExpiresAt, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, store.ErrTicketConsumed) {
			return nil, clientID, fmt.Errorf("%w: already used", consent.ErrInvalidTicket)
		}
		return nil, clientID, err
	}

	prompt, err := s.negotiator.Prepare(ctx, identity, *scopeReq)
	if err != nil {
		return nil, clientID, err
	}

	decision, err := s.negotiator.Decide(ctx, prompt, req.Approve)
	if errors.Is(err, consent.ErrConsentDenied) {
		if s.metrics != nil {
			s.metrics.ObserveConsentDecision(false)
		}
		s.logAudit(ctx, audit.EventConsentDenied, clientID, scopeReq.Scopes)
		return &models.Redirect{
			RedirectURI: scopeReq.RedirectURI,
			State:       scopeReq.State,
			Error:       "access_denied",
		}, clientID, nil
	}
	if err != nil {
		return nil, clientID, err
	}
	if s.metrics != nil {
		s.metrics.ObserveConsentDecision(true)
	}
	s.logAudit(ctx, audit.EventConsentGranted, clientID, decision.Scopes,
		"subject_policy", string(decision.SubjectPolicy),
	)

	code, err := s.issueCode(ctx, decision)
	if err != nil {
		return nil, clientID, err
	}
	defer code.Zero()

	if s.metrics != nil {
		s.metrics.IncrementCodesIssued()
	}
	s.logAudit(ctx, audit.EventCodeIssued, clientID, decision.Scopes)

	return &models.Redirect{
		RedirectURI: decision.RedirectURI,
		Code:        code.Encode(),
		State:       scopeReq.State,
	}, clientID, nil
}

// issueCode seals decision under a key derived from a fresh code and stores
// it under the code's storage key. Only the returned code can open it.
func (s *Service) issueCode(ctx context.Context, decision *consent.Decision) (authcode.Code, error) {
	code, err := authcode.Generate(s.random)
	if err != nil {
		return authcode.Code{}, err
	}

	payload, err := json.Marshal(decision)
	if err != nil {
		code.Zero()
		return authcode.Code{}, fmt.Errorf("encode decision: %w", err)
	}
	defer clear(payload)

	key, err := code.DeriveKey()
	if err != nil {
		code.Zero()
		return authcode.Code{}, err
	}
	defer clear(key)

	storageKey := code.StorageKey()
	sealed, err := s.sealer.Seal(key, payload, seal.AssociatedData(storageKey, decision.ClientID))
	if err != nil {
		code.Zero()
		return authcode.Code{}, err
	}

	now := requestcontext.Now(ctx)
	record := &store.SealedRecord{
		StorageKey: storageKey,
		ClientID:   decision.ClientID,
		Ciphertext: sealed.Ciphertext,
		Nonce:      sealed.Nonce,
		ExpiresAt:  now.Add(s.codeTTL),
		CreatedAt:  now,
	}
	if err := s.codes.Put(ctx, record); err != nil {
		code.Zero()
		return authcode.Code{}, err
	}
	return code, nil
}
