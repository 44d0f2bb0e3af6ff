package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"once/internal/auth/metrics"
	"once/internal/auth/service/mocks"
	"once/internal/certificate"
	"once/internal/client"
	"once/internal/consent"
	"once/internal/store/memory"
	dErrors "once/pkg/domain-errors"
	"once/pkg/platform/audit"
	"once/pkg/requestcontext"
)

var ticketSecret = []byte("consent-ticket-secret-0123456789abcdef")

type ServiceSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	mockCerts   *mocks.MockCertificateValidator
	mockClients *mocks.MockClientRegistry
	mockTokens  *mocks.MockTokenIssuer
	mockAudit   *mocks.MockAuditPublisher
	codes       *memory.Store
	tickets     *consent.TicketSigner
	metrics     *metrics.Metrics
	events      []audit.Event
	now         time.Time
	ctx         context.Context
	service     *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockCerts = mocks.NewMockCertificateValidator(s.ctrl)
	s.mockClients = mocks.NewMockClientRegistry(s.ctrl)
	s.mockTokens = mocks.NewMockTokenIssuer(s.ctrl)
	s.mockAudit = mocks.NewMockAuditPublisher(s.ctrl)
	s.codes = memory.New()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.events = nil
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), s.now), "req-1")

	var err error
	s.tickets, err = consent.NewTicketSigner(ticketSecret, 5*time.Minute)
	s.Require().NoError(err)

	s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e audit.Event) error {
			s.events = append(s.events, e)
			return nil
		}).AnyTimes()

	s.service, err = New(s.mockCerts, s.mockClients, s.tickets, s.codes, s.mockTokens,
		&Config{CodeTTL: 60 * time.Second},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.mockAudit),
		WithMetrics(s.metrics),
		WithNegotiator(consent.NewNegotiator(consent.WithSubjectGenerator(func() string { return "pairwise-subject" }))),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

// Shared fixtures

func (s *ServiceSuite) ana() *certificate.Identity {
	return &certificate.Identity{
		CommonName:  "ANA GARCIA",
		GivenName:   "Ana",
		FamilyName:  "Garcia",
		NationalID:  "39001010000",
		DateOfBirth: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Thumbprint:  "a1b2c3",
	}
}

func (s *ServiceSuite) shop() *client.Client {
	return &client.Client{
		ID:           "shop",
		Name:         "Example Shop",
		RedirectURIs: []string{"https://shop.example/cb"},
	}
}

func (s *ServiceSuite) requireCode(err error, code dErrors.Code) {
	s.Require().Error(err)
	s.Require().True(dErrors.HasCode(err, code), "expected %s, got %v", code, err)
}

func (s *ServiceSuite) failures(flow, kind string) float64 {
	return testutil.ToFloat64(s.metrics.Failures.WithLabelValues(flow, kind))
}

func (s *ServiceSuite) actions() []string {
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Action)
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}
