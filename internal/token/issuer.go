// Package token issues signed identity tokens carrying exactly the consented claims.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"once/internal/consent"
	"once/pkg/requestcontext"
	"once/pkg/secrets"
)

// TokenType is returned with every successful exchange.
const TokenType = "Bearer"

var (
	// ErrClientBinding is returned when a client other than the consenting one asks for the token.
	ErrClientBinding = errors.New("decision bound to a different client")
	// ErrUnknownClaim means a decision carried a claim outside the scope table.
	ErrUnknownClaim = errors.New("claim outside the declared scope table")
	// ErrInvalidToken is returned by Verify.
	ErrInvalidToken = errors.New("invalid identity token")
)

// Result is the token response body.
type Result struct {
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Issuer builds and signs identity tokens.
type Issuer struct {
	signer         Signer
	issuer         string
	ttl            time.Duration
	newAccessToken func() (string, error)
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithAccessTokenGenerator overrides the opaque access token source.
func WithAccessTokenGenerator(fn func() (string, error)) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.newAccessToken = fn
		}
	}
}

// NewIssuer creates an Issuer signing as issuer with tokens valid for ttl.
func NewIssuer(signer Signer, issuer string, ttl time.Duration, opts ...IssuerOption) (*Issuer, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if issuer == "" || ttl <= 0 {
		return nil, errors.New("issuer and positive ttl are required")
	}
	i := &Issuer{
		signer:         signer,
		issuer:         issuer,
		ttl:            ttl,
		newAccessToken: secrets.NewAccessToken,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs an ID token for decision on behalf of clientID.
func (i *Issuer) Issue(ctx context.Context, decision *consent.Decision, clientID string) (*Result, error) {
	if decision == nil || decision.ClientID != clientID {
		return nil, ErrClientBinding
	}
	for name := range decision.Claims {
		if !consent.KnownClaim(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownClaim, name)
		}
	}

	now := requestcontext.Now(ctx)
	claims := jwt.MapClaims{
		"iss":       i.issuer,
		"sub":       decision.Subject,
		"aud":       clientID,
		"iat":       now.Unix(),
		"exp":       now.Add(i.ttl).Unix(),
		"jti":       uuid.NewString(),
		"auth_time": decision.AuthTime.Unix(),
	}
	if decision.Nonce != "" {
		claims["nonce"] = decision.Nonce
	}
	for name, value := range decision.Claims {
		claims[name] = value
	}

	idToken, err := i.signer.Sign(claims)
	if err != nil {
		return nil, fmt.Errorf("sign id token: %w", err)
	}
	accessToken, err := i.newAccessToken()
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	return &Result{
		IDToken:     idToken,
		AccessToken: accessToken,
		TokenType:   TokenType,
		ExpiresIn:   int64(i.ttl / time.Second),
	}, nil
}

// Verify parses an ID token issued by i for audience. Only the configured
// algorithm is accepted.
func (i *Issuer) Verify(ctx context.Context, raw, audience string) (jwt.MapClaims, error) {
	now := requestcontext.Now(ctx)
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return i.signer.VerificationKey(), nil },
		jwt.WithValidMethods([]string{i.signer.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// JWKS returns the public verification keys.
func (i *Issuer) JWKS() jose.JSONWebKeySet {
	return i.signer.PublicKeys()
}

// Alg reports the signing algorithm.
func (i *Issuer) Alg() string {
	return i.signer.Alg()
}
