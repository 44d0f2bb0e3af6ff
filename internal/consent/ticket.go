package consent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"once/pkg/requestcontext"
)

const (
	ticketIssuer   = "once/consent"
	minSecretBytes = 32
)

// ErrInvalidTicket is returned for tickets that are forged, expired or bound
// to a different certificate.
var ErrInvalidTicket = errors.New("invalid consent ticket")

// TicketClaims bind a displayed prompt to the certificate that requested it.
type TicketClaims struct {
	ClientID       string   `json:"cid"`
	RedirectURI    string   `json:"rdr"`
	Scopes         []string `json:"scp"`
	State          string   `json:"st,omitempty"`
	Nonce          string   `json:"nonce,omitempty"`
	CertThumbprint string   `json:"x5t#S256"`
	jwt.RegisteredClaims
}

// Ticket is a verified consent ticket. ID and ExpiresAt let callers record it
// as used.
type Ticket struct {
	ScopeRequest
	ID        string
	ExpiresAt time.Time
}

// TicketSigner issues and verifies consent tickets (HS256).
type TicketSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewTicketSigner creates a signer. The secret must be at least 32 bytes.
func NewTicketSigner(secret []byte, ttl time.Duration) (*TicketSigner, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("consent ticket secret must be at least %d bytes", minSecretBytes)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("consent ticket ttl must be positive")
	}
	return &TicketSigner{secret: slices.Clone(secret), ttl: ttl}, nil
}

// TTL is how long an issued ticket stays valid.
func (s *TicketSigner) TTL() time.Duration {
	return s.ttl
}

// Issue signs a ticket for req as presented by the certificate with thumbprint.
func (s *TicketSigner) Issue(ctx context.Context, req ScopeRequest, thumbprint string) (string, error) {
	now := requestcontext.Now(ctx)
	claims := TicketClaims{
		ClientID:       req.ClientID,
		RedirectURI:    req.RedirectURI,
		Scopes:         req.Scopes,
		State:          req.State,
		Nonce:          req.Nonce,
		CertThumbprint: thumbprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ticketIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign consent ticket: %w", err)
	}
	return signed, nil
}

// Verify checks the ticket signature, lifetime and certificate binding and
// returns the original request. It does not track use; callers record the ID.
func (s *TicketSigner) Verify(ctx context.Context, ticket, thumbprint string) (*Ticket, error) {
	now := requestcontext.Now(ctx)
	claims := new(TicketClaims)
	_, err := jwt.ParseWithClaims(ticket, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ticketIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if claims.CertThumbprint == "" || claims.CertThumbprint != thumbprint {
		return nil, fmt.Errorf("%w: certificate mismatch", ErrInvalidTicket)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing ticket id", ErrInvalidTicket)
	}

	return &Ticket{
		ScopeRequest: ScopeRequest{
			ClientID:    claims.ClientID,
			RedirectURI: claims.RedirectURI,
			Scopes:      claims.Scopes,
			State:       claims.State,
			Nonce:       claims.Nonce,
		},
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
