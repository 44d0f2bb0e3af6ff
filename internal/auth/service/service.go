// Package service runs the two legs of the pipeline: authorize (certificate,
// consent, sealed single-use code) and exchange (redeem code, sign token).
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks CertificateValidator,ClientRegistry,TokenIssuer,AuditPublisher

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"io"
	"log/slog"
	"time"

	"once/internal/auth/metrics"
	"once/internal/certificate"
	"once/internal/client"
	"once/internal/consent"
	"once/internal/platform/tracer"
	"once/internal/seal"
	"once/internal/store"
	"once/internal/token"
	audit "once/pkg/platform/audit"
)

// CertificateValidator verifies the presented eID chain and extracts the identity.
type CertificateValidator interface {
	Validate(ctx context.Context, chain []*x509.Certificate) (*certificate.Identity, error)
}

// ClientRegistry resolves relying parties.
type ClientRegistry interface {
	ResolveAuthorize(ctx context.Context, id, redirectURI string, scopes []string) (*client.Client, error)
	Authenticate(ctx context.Context, id, secret string) (*client.Client, error)
}

// TokenIssuer signs identity tokens for redeemed decisions.
type TokenIssuer interface {
	Issue(ctx context.Context, decision *consent.Decision, clientID string) (*token.Result, error)
}

// AuditPublisher records security events. Emit failures are logged, never returned to callers.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Config holds the lifetimes the service enforces.
type Config struct {
	CodeTTL time.Duration
}

const defaultCodeTTL = 60 * time.Second

// Service runs the authorize and token exchange flows over its collaborators.
type Service struct {
	certs          CertificateValidator
	clients        ClientRegistry
	negotiator     *consent.Negotiator
	tickets        *consent.TicketSigner
	codes          store.Store
	tokens         TokenIssuer
	sealer         *seal.Sealer
	random         io.Reader
	codeTTL        time.Duration
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         tracer.Tracer
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithLogger sets the service logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAuditPublisher forwards audit events to publisher as well as the log.
func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithMetrics enables Prometheus counters and histograms.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer sets the tracer for flow spans. A nil tracer is ignored.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithNegotiator replaces the default consent negotiator.
func WithNegotiator(n *consent.Negotiator) Option {
	return func(s *Service) {
		if n != nil {
			s.negotiator = n
		}
	}
}

// WithRandom sets the entropy source for codes and nonces.
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		if r != nil {
			s.random = r
			s.sealer = seal.New(r)
		}
	}
}

// New wires the pipeline. Every collaborator argument is required.
func New(
	certs CertificateValidator,
	clients ClientRegistry,
	tickets *consent.TicketSigner,
	codes store.Store,
	tokens TokenIssuer,
	cfg *Config,
	opts ...Option,
) (*Service, error) {
	if certs == nil || clients == nil || tickets == nil || codes == nil || tokens == nil {
		return nil, errors.New("certificate validator, client registry, ticket signer, store and token issuer are required")
	}
	svc := &Service{
		certs:      certs,
		clients:    clients,
		negotiator: consent.NewNegotiator(),
		tickets:    tickets,
		codes:      codes,
		tokens:     tokens,
		sealer:     seal.New(rand.Reader),
		random:     rand.Reader,
		codeTTL:    defaultCodeTTL,
		tracer:     tracer.NewNoop(),
	}
	if cfg != nil && cfg.CodeTTL > 0 {
		svc.codeTTL = cfg.CodeTTL
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc, nil
}
