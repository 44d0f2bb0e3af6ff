package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"once/internal/auth/models"
	"once/internal/authcode"
	"once/internal/certificate"
	"once/internal/client"
	"once/internal/consent"
	dErrors "once/pkg/domain-errors"
	"once/pkg/platform/audit"
)

func (s *ServiceSuite) authorizeRequest(scopes ...string) *models.AuthorizeRequest {
	return &models.AuthorizeRequest{
		ClientID:    "shop",
		RedirectURI: "https://shop.example/cb",
		Scopes:      scopes,
		State:       "st-1",
		Nonce:       "n-1",
	}
}

func (s *ServiceSuite) TestPrepare() {
	s.Run("returns prompt naming claims without values", func() {
		s.SetupTest()
		req := s.authorizeRequest("openid", "age_verification")
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(s.ana(), nil)
		s.mockClients.EXPECT().ResolveAuthorize(gomock.Any(), "shop", req.RedirectURI, req.Scopes).Return(s.shop(), nil)

		prompt, err := s.service.Prepare(s.ctx, nil, req)
		s.Require().NoError(err)

		s.Equal("Example Shop", prompt.ClientName)
		s.Equal([]string{"age_over_18"}, prompt.Claims)
		s.Equal(string(consent.SubjectPairwiseEphemeral), prompt.SubjectPolicy)
		s.NotEmpty(prompt.Ticket)
		s.EqualValues(300, prompt.ExpiresIn)
		s.Len(prompt.Scopes, 2)
		s.Zero(s.codes.Len(), "prepare must not store anything")
		s.InDelta(1, testutil.ToFloat64(s.metrics.ConsentPrompts), 0)
		s.Equal([]string{string(audit.EventConsentPrompted)}, s.actions())
	})

	s.Run("unsupported scope is rejected before the registry and before any ticket", func() {
		s.SetupTest()
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(s.ana(), nil)

		prompt, err := s.service.Prepare(s.ctx, nil, s.authorizeRequest("openid", "driver-license"))
		s.requireCode(err, dErrors.CodeInvalidScope)
		s.Nil(prompt)
		s.Contains(err.Error(), "driver-license")
		s.Zero(s.codes.Len())
		s.InDelta(1, s.failures(flowAuthorize, "unsupported_scope"), 0)
	})

	s.Run("missing openid", func() {
		s.SetupTest()
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(s.ana(), nil)

		_, err := s.service.Prepare(s.ctx, nil, s.authorizeRequest("profile"))
		s.requireCode(err, dErrors.CodeInvalidScope)
	})

	s.Run("rejected certificate hides the reason", func() {
		s.SetupTest()
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).
			Return(nil, fmt.Errorf("%w: certificate has expired", certificate.ErrRejected))

		_, err := s.service.Prepare(s.ctx, nil, s.authorizeRequest("openid"))
		s.requireCode(err, dErrors.CodeCertificateRejected)
		s.Equal("client certificate rejected", err.Error())
		s.InDelta(1, s.failures(flowAuthorize, "certificate_rejected"), 0)
		s.Equal([]string{string(audit.EventAuthFailed)}, s.actions())
		s.Equal("certificate_rejected", s.events[0].Reason)
		s.Equal("req-1", s.events[0].RequestID)
	})

	s.Run("malformed certificate", func() {
		s.SetupTest()
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).
			Return(nil, fmt.Errorf("%w: serial number missing", certificate.ErrMalformed))

		_, err := s.service.Prepare(s.ctx, nil, s.authorizeRequest("openid"))
		s.requireCode(err, dErrors.CodeCertificateMalformed)
	})

	s.Run("unregistered redirect uri", func() {
		s.SetupTest()
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(s.ana(), nil)
		s.mockClients.EXPECT().ResolveAuthorize(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, client.ErrRedirectMismatch)

		_, err := s.service.Prepare(s.ctx, nil, s.authorizeRequest("openid"))
		s.requireCode(err, dErrors.CodeInvalidRequest)
	})

	s.Run("scope needs an attribute the certificate lacks", func() {
		s.SetupTest()
		id := s.ana()
		id.DateOfBirth = time.Time{}
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(id, nil)
		s.mockClients.EXPECT().ResolveAuthorize(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(s.shop(), nil)

		_, err := s.service.Prepare(s.ctx, nil, s.authorizeRequest("openid", "birthdate"))
		s.requireCode(err, dErrors.CodeInvalidScope)
		s.InDelta(1, s.failures(flowAuthorize, "missing_attribute"), 0)
	})
}

func (s *ServiceSuite) ticketFor(thumbprint string, scopes ...string) string {
	ticket, err := s.tickets.Issue(s.ctx, consent.ScopeRequest{
		ClientID:    "shop",
		RedirectURI: "https://shop.example/cb",
		Scopes:      scopes,
		State:       "st-1",
		Nonce:       "n-1",
	}, thumbprint)
	s.Require().NoError(err)
	return ticket
}

func (s *ServiceSuite) TestDecide() {
	s.Run("approval seals the decision under a fresh code", func() {
		s.SetupTest()
		ticket := s.ticketFor(s.ana().Thumbprint, "openid", "age_verification")
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(s.ana(), nil)
		s.mockClients.EXPECT().ResolveAuthorize(gomock.Any(), "shop", "https://shop.example/cb", gomock.Any()).Return(s.shop(), nil)

		redirect, err := s.service.Decide(s.ctx, nil, &models.DecisionRequest{Ticket: ticket, Approve: true})
		s.Require().NoError(err)

		s.Empty(redirect.Error)
		s.Equal("st-1", redirect.State)
		_, err = authcode.Parse(redirect.Code)
		s.NoError(err)
		s.Equal(1, s.codes.Len())
		s.InDelta(1, testutil.ToFloat64(s.metrics.CodesIssued), 0)
		s.Equal([]string{string(audit.EventConsentGranted), string(audit.EventCodeIssued)}, s.actions())
	})

	s.Run("denial redirects with access_denied and stores nothing", func() {
		s.SetupTest()
		ticket := s.ticketFor(s.ana().Thumbprint, "openid", "profile")
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(s.ana(), nil)
		s.mockClients.EXPECT().ResolveAuthorize(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(s.shop(), nil)

		redirect, err := s.service.Decide(s.ctx, nil, &models.DecisionRequest{Ticket: ticket, Approve: false})
		s.Require().NoError(err)

		s.Equal("access_denied", redirect.Error)
		s.Empty(redirect.Code)
		s.Equal("st-1", redirect.State)
		s.Zero(s.codes.Len())
		s.InDelta(1, testutil.ToFloat64(s.metrics.ConsentDecisions.WithLabelValues("denied")), 0)
		s.Equal([]string{string(audit.EventConsentDenied)}, s.actions())
	})

	s.Run("ticket presented with another certificate", func() {
		s.SetupTest()
		ticket := s.ticketFor(s.ana().Thumbprint, "openid")
		other := s.ana()
		other.Thumbprint = "ffff"
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(other, nil)

		_, err := s.service.Decide(s.ctx, nil, &models.DecisionRequest{Ticket: ticket, Approve: true})
		s.requireCode(err, dErrors.CodeInvalidRequest)
		s.Zero(s.codes.Len())
		s.InDelta(1, s.failures(flowAuthorize, "invalid_ticket"), 0)
	})

	s.Run("forged ticket", func() {
		s.SetupTest()
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(s.ana(), nil)

		_, err := s.service.Decide(s.ctx, nil, &models.DecisionRequest{Ticket: "not.a.ticket", Approve: true})
		s.requireCode(err, dErrors.CodeInvalidRequest)
	})

	s.Run("ticket answers only once", func() {
		s.SetupTest()
		ticket := s.ticketFor(s.ana().Thumbprint, "openid")
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(s.ana(), nil).Times(2)
		s.mockClients.EXPECT().ResolveAuthorize(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(s.shop(), nil).Times(2)

		_, err := s.service.Decide(s.ctx, nil, &models.DecisionRequest{Ticket: ticket, Approve: true})
		s.Require().NoError(err)

		_, err = s.service.Decide(s.ctx, nil, &models.DecisionRequest{Ticket: ticket, Approve: true})
		s.requireCode(err, dErrors.CodeInvalidRequest)
		s.Equal(1, s.codes.Len())
		s.InDelta(1, s.failures(flowAuthorize, "invalid_ticket"), 0)
	})

	s.Run("ticket store outage fails closed", func() {
		s.SetupTest()
		svc, err := New(s.mockCerts, s.mockClients, s.tickets, brokenStore{err: errors.New("connection refused")}, s.mockTokens, nil,
			WithMetrics(s.metrics))
		s.Require().NoError(err)
		ticket := s.ticketFor(s.ana().Thumbprint, "openid")
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(s.ana(), nil)
		s.mockClients.EXPECT().ResolveAuthorize(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(s.shop(), nil)

		_, err = svc.Decide(s.ctx, nil, &models.DecisionRequest{Ticket: ticket, Approve: false})
		s.requireCode(err, dErrors.CodeInternal)
	})

	s.Run("client removed from registry after the prompt", func() {
		s.SetupTest()
		ticket := s.ticketFor(s.ana().Thumbprint, "openid")
		s.mockCerts.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(s.ana(), nil)
		s.mockClients.EXPECT().ResolveAuthorize(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, client.ErrUnknownClient)

		_, err := s.service.Decide(s.ctx, nil, &models.DecisionRequest{Ticket: ticket, Approve: true})
		s.requireCode(err, dErrors.CodeInvalidRequest)
		s.Zero(s.codes.Len())
	})
}
