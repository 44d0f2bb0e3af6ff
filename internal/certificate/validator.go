// Package certificate validates eID client certificates and extracts the
// identity attributes they carry.
//
// Chains are verified against an explicit root pool only; the system trust
// store is never consulted. Every non-root certificate of the verified chain
// is checked against offline revocation data.
package certificate

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"
	"time"

	"once/internal/certificate/crl"
)

var (
	// ErrRejected covers untrusted, expired, not-yet-valid and revoked certificates.
	ErrRejected = errors.New("certificate rejected")
	// ErrMalformed covers certificates that cannot be parsed or lack required attributes.
	ErrMalformed = errors.New("certificate malformed")
)

// RevocationChecker reports revocation status for a certificate and its issuer.
type RevocationChecker interface {
	Status(cert, issuer *x509.Certificate, now time.Time) crl.Status
}

// Validator verifies client certificate chains.
type Validator struct {
	roots                 *x509.CertPool
	intermediates         []*x509.Certificate
	revocation            RevocationChecker
	requireRevocationData bool
	clock                 func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithIntermediates adds CA certificates used as chain-building candidates.
func WithIntermediates(certs ...*x509.Certificate) Option {
	return func(v *Validator) {
		v.intermediates = append(v.intermediates, certs...)
	}
}

// WithRevocation enables revocation checking. With require set, a missing or
// stale revocation list for any issuer in the chain rejects the certificate.
func WithRevocation(checker RevocationChecker, require bool) Option {
	return func(v *Validator) {
		v.revocation = checker
		v.requireRevocationData = require
	}
}

// WithClock overrides the verification time source.
func WithClock(clock func() time.Time) Option {
	return func(v *Validator) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// NewValidator creates a Validator trusting only roots.
func NewValidator(roots *x509.CertPool, opts ...Option) (*Validator, error) {
	if roots == nil {
		return nil, fmt.Errorf("trust roots are required")
	}
	v := &Validator{
		roots:                 roots,
		requireRevocationData: true,
		clock:                 time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ValidateRaw parses DER certificates (leaf first) and validates them.
func (v *Validator) ValidateRaw(ctx context.Context, rawDER [][]byte) (*Identity, error) {
	chain := make([]*x509.Certificate, 0, len(rawDER))
	for _, der := range rawDER {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		chain = append(chain, cert)
	}
	return v.Validate(ctx, chain)
}

// Validate verifies the presented chain (leaf first) and returns the
// identity of the leaf.
func (v *Validator) Validate(ctx context.Context, chain []*x509.Certificate) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(chain) == 0 || chain[0] == nil {
		return nil, fmt.Errorf("%w: no client certificate presented", ErrRejected)
	}
	leaf := chain[0]
	now := v.clock()

	if !slices.Contains(leaf.ExtKeyUsage, x509.ExtKeyUsageClientAuth) {
		return nil, fmt.Errorf("%w: client authentication usage missing", ErrRejected)
	}

	intermediates := x509.NewCertPool()
	for _, c := range v.intermediates {
		intermediates.AddCert(c)
	}
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}

	verified, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRejected, verifyReason(err))
	}

	if v.revocation != nil {
		if err := v.checkRevocation(verified[0], now); err != nil {
			return nil, err
		}
	}

	return parseIdentity(leaf)
}

func (v *Validator) checkRevocation(chain []*x509.Certificate, now time.Time) error {
	for i := 0; i < len(chain)-1; i++ {
		switch v.revocation.Status(chain[i], chain[i+1], now) {
		case crl.Good:
		case crl.Revoked:
			return fmt.Errorf("%w: certificate revoked", ErrRejected)
		default:
			if v.requireRevocationData {
				return fmt.Errorf("%w: revocation status unavailable", ErrRejected)
			}
		}
	}
	return nil
}

func verifyReason(err error) string {
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) {
		switch invalid.Reason {
		case x509.Expired:
			return "certificate expired or not yet valid"
		case x509.IncompatibleUsage:
			return "client authentication usage missing"
		}
	}
	var unknown x509.UnknownAuthorityError
	if errors.As(err, &unknown) {
		return "untrusted issuer"
	}
	return "chain verification failed"
}
