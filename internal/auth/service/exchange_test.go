package service

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"once/internal/auth/models"
	"once/internal/authcode"
	"once/internal/client"
	"once/internal/consent"
	"once/internal/store"
	"once/internal/token"
	dErrors "once/pkg/domain-errors"
	"once/pkg/platform/audit"
	"once/pkg/requestcontext"
)

func (s *ServiceSuite) decision() *consent.Decision {
	return &consent.Decision{
		ClientID:      "shop",
		RedirectURI:   "https://shop.example/cb",
		Scopes:        []string{"openid", "age_verification"},
		Claims:        map[string]any{"age_over_18": true},
		Subject:       "pairwise-subject",
		SubjectPolicy: consent.SubjectPairwiseEphemeral,
		Nonce:         "n-1",
		AuthTime:      s.now,
	}
}

// issue stores a sealed decision and returns the code's wire form.
func (s *ServiceSuite) issue() string {
	code, err := s.service.issueCode(s.ctx, s.decision())
	s.Require().NoError(err)
	return code.Encode()
}

func (s *ServiceSuite) tokenRequest(code string) *models.TokenRequest {
	return &models.TokenRequest{
		GrantType:   models.GrantTypeAuthorizationCode,
		Code:        code,
		ClientID:    "shop",
		RedirectURI: "https://shop.example/cb",
	}
}

func (s *ServiceSuite) expectAuthenticate(id string) {
	s.mockClients.EXPECT().Authenticate(gomock.Any(), id, gomock.Any()).Return(&client.Client{ID: id}, nil)
}

var issued = &token.Result{IDToken: "header.payload.sig", AccessToken: "opaque", TokenType: token.TokenType, ExpiresIn: 300}

func (s *ServiceSuite) TestExchangeSuccess() {
	code := s.issue()
	s.expectAuthenticate("shop")
	s.mockTokens.EXPECT().Issue(gomock.Any(), gomock.Any(), "shop").DoAndReturn(
		func(_ context.Context, d *consent.Decision, _ string) (*token.Result, error) {
			s.Equal(map[string]any{"age_over_18": true}, d.Claims)
			s.Equal("pairwise-subject", d.Subject)
			s.Equal("n-1", d.Nonce)
			s.True(d.AuthTime.Equal(s.now))
			return issued, nil
		})

	res, err := s.service.Exchange(s.ctx, s.tokenRequest(code))
	s.Require().NoError(err)
	s.Equal(issued, res)
	s.Zero(s.codes.Len())
	s.InDelta(1, testutil.ToFloat64(s.metrics.TokensIssued), 0)
	s.Equal([]string{string(audit.EventTokenIssued)}, s.actions())
}

func (s *ServiceSuite) TestSecondRedemptionFails() {
	code := s.issue()
	s.expectAuthenticate("shop")
	s.expectAuthenticate("shop")
	s.mockTokens.EXPECT().Issue(gomock.Any(), gomock.Any(), "shop").Return(issued, nil).Times(1)

	_, err := s.service.Exchange(s.ctx, s.tokenRequest(code))
	s.Require().NoError(err)

	_, err = s.service.Exchange(s.ctx, s.tokenRequest(code))
	s.requireCode(err, dErrors.CodeInvalidGrant)
	s.Equal(invalidCodeMessage, err.Error())
	s.InDelta(1, s.failures(flowExchange, "code_not_found"), 0)
}

func (s *ServiceSuite) TestRedemptionAfterExpiry() {
	code := s.issue()
	s.expectAuthenticate("shop")

	late := requestcontext.WithTime(s.ctx, s.now.Add(61*time.Second))
	_, err := s.service.Exchange(late, s.tokenRequest(code))
	s.requireCode(err, dErrors.CodeInvalidGrant)
	s.Equal(invalidCodeMessage, err.Error())
	s.InDelta(1, s.failures(flowExchange, "code_not_found"), 0)
}

func (s *ServiceSuite) TestRedemptionByAnotherClientDestroysCode() {
	code := s.issue()
	s.expectAuthenticate("other")
	s.expectAuthenticate("shop")

	req := s.tokenRequest(code)
	req.ClientID = "other"
	_, err := s.service.Exchange(s.ctx, req)
	s.requireCode(err, dErrors.CodeInvalidGrant)
	s.Equal(invalidCodeMessage, err.Error())
	s.InDelta(1, s.failures(flowExchange, "client_binding"), 0)

	_, err = s.service.Exchange(s.ctx, s.tokenRequest(code))
	s.requireCode(err, dErrors.CodeInvalidGrant)
	s.InDelta(1, s.failures(flowExchange, "code_not_found"), 0)
}

func (s *ServiceSuite) TestTamperedRecord() {
	code := s.issue()
	parsed, err := authcode.Parse(code)
	s.Require().NoError(err)

	record, err := s.codes.Take(s.ctx, parsed.StorageKey(), "shop", s.now)
	s.Require().NoError(err)
	record.Ciphertext[0] ^= 0x01
	s.Require().NoError(s.codes.Put(s.ctx, record))

	s.expectAuthenticate("shop")
	_, err = s.service.Exchange(s.ctx, s.tokenRequest(code))
	s.requireCode(err, dErrors.CodeInvalidGrant)
	s.Equal(invalidCodeMessage, err.Error())
	s.InDelta(1, s.failures(flowExchange, "payload_integrity"), 0)
	s.Zero(s.codes.Len(), "tampered record is consumed")
}

func (s *ServiceSuite) TestExchangeFailures() {
	s.Run("malformed code never reaches the store", func() {
		s.SetupTest()
		s.issue()
		s.expectAuthenticate("shop")

		_, err := s.service.Exchange(s.ctx, s.tokenRequest("not-a-code"))
		s.requireCode(err, dErrors.CodeInvalidGrant)
		s.Equal(invalidCodeMessage, err.Error())
		s.Equal(1, s.codes.Len())
	})

	s.Run("redirect uri differs from the authorization", func() {
		s.SetupTest()
		code := s.issue()
		s.expectAuthenticate("shop")

		req := s.tokenRequest(code)
		req.RedirectURI = "https://shop.example/other"
		_, err := s.service.Exchange(s.ctx, req)
		s.requireCode(err, dErrors.CodeInvalidGrant)
		s.Equal(invalidCodeMessage, err.Error())
		s.Zero(s.codes.Len())
	})

	s.Run("client authentication failure", func() {
		s.SetupTest()
		code := s.issue()
		s.mockClients.EXPECT().Authenticate(gomock.Any(), "shop", gomock.Any()).Return(nil, client.ErrAuthenticationFailed)

		_, err := s.service.Exchange(s.ctx, s.tokenRequest(code))
		s.requireCode(err, dErrors.CodeInvalidClient)
		s.Equal(1, s.codes.Len(), "code survives a failed client authentication")
	})

	s.Run("unsupported grant type", func() {
		s.SetupTest()
		req := s.tokenRequest("x")
		req.GrantType = "refresh_token"

		_, err := s.service.Exchange(s.ctx, req)
		s.requireCode(err, dErrors.CodeUnsupportedGrantType)
	})

	s.Run("issuer rejects the client binding", func() {
		s.SetupTest()
		code := s.issue()
		s.expectAuthenticate("shop")
		s.mockTokens.EXPECT().Issue(gomock.Any(), gomock.Any(), "shop").Return(nil, token.ErrClientBinding)

		_, err := s.service.Exchange(s.ctx, s.tokenRequest(code))
		s.requireCode(err, dErrors.CodeInvalidGrant)
		s.Equal(invalidCodeMessage, err.Error())
	})

	s.Run("claim outside the scope table is an invariant violation", func() {
		s.SetupTest()
		code := s.issue()
		s.expectAuthenticate("shop")
		s.mockTokens.EXPECT().Issue(gomock.Any(), gomock.Any(), "shop").Return(nil, token.ErrUnknownClaim)

		_, err := s.service.Exchange(s.ctx, s.tokenRequest(code))
		s.requireCode(err, dErrors.CodeInvariantViolation)
	})

	s.Run("store outage", func() {
		s.SetupTest()
		svc, err := New(s.mockCerts, s.mockClients, s.tickets, brokenStore{err: errors.New("connection refused")}, s.mockTokens, nil,
			WithMetrics(s.metrics))
		s.Require().NoError(err)
		s.expectAuthenticate("shop")

		_, err = svc.Exchange(s.ctx, s.tokenRequest(s.issue()))
		s.requireCode(err, dErrors.CodeInternal)
		s.Equal("token exchange failed", err.Error())
		s.InDelta(1, s.failures(flowExchange, "internal_error"), 0)
	})

	s.Run("store deadline", func() {
		s.SetupTest()
		svc, err := New(s.mockCerts, s.mockClients, s.tickets, brokenStore{err: context.DeadlineExceeded}, s.mockTokens, nil)
		s.Require().NoError(err)
		s.expectAuthenticate("shop")

		_, err = svc.Exchange(s.ctx, s.tokenRequest(s.issue()))
		s.requireCode(err, dErrors.CodeUnavailable)
	})
}

type brokenStore struct{ err error }

func (b brokenStore) Put(context.Context, *store.SealedRecord) error { return b.err }

func (b brokenStore) Take(context.Context, string, string, time.Time) (*store.SealedRecord, error) {
	return nil, b.err
}

func (b brokenStore) DeleteExpired(context.Context, time.Time) (int, error) { return 0, b.err }

func (b brokenStore) ConsumeTicket(context.Context, string, time.Time, time.Time) error { return b.err }
