package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"slices"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

const minHMACSecret = 32

// Signer signs ID tokens with one key and exposes how to verify them.
type Signer interface {
	Alg() string
	KeyID() string
	Sign(claims jwt.Claims) (string, error)
	// VerificationKey returns the key handed to jwt.Parse.
	VerificationKey() any
	// PublicKeys is the JWK Set published for relying parties. Symmetric
	// signers publish nothing.
	PublicKeys() jose.JSONWebKeySet
}

// ES256Signer signs with an ECDSA P-256 key.
type ES256Signer struct {
	kid string
	key *ecdsa.PrivateKey
}

// NewES256Signer loads a PKCS8 PEM ("PRIVATE KEY") P-256 key.
func NewES256Signer(kid string, pemKey []byte) (*ES256Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("token: invalid PEM for ES256 key")
	}
	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("token: expected PRIVATE KEY, got %q (ES256 requires PKCS8)", block.Type)
	}

	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("token: parse PKCS8: %w", err)
	}
	key, ok := priv.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("token: not an ECDSA private key")
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("token: expected P-256 curve, got %s", key.Curve.Params().Name)
	}
	if kid == "" {
		return nil, errors.New("token: key id required")
	}
	return &ES256Signer{kid: kid, key: key}, nil
}

// GenerateES256Key returns a fresh P-256 key as PKCS8 PEM.
func GenerateES256Key() ([]byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ES256 key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal ES256 key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func (s *ES256Signer) Alg() string   { return jwt.SigningMethodES256.Alg() }
func (s *ES256Signer) KeyID() string { return s.kid }

func (s *ES256Signer) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

func (s *ES256Signer) VerificationKey() any {
	return &s.key.PublicKey
}

func (s *ES256Signer) PublicKeys() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       crypto.PublicKey(&s.key.PublicKey),
		KeyID:     s.kid,
		Algorithm: s.Alg(),
		Use:       "sig",
	}}}
}

// HS256Signer signs with a shared secret.
type HS256Signer struct {
	kid    string
	secret []byte
}

// NewHS256Signer creates an HMAC signer; the secret must be at least 32 bytes.
func NewHS256Signer(kid string, secret []byte) (*HS256Signer, error) {
	if len(secret) < minHMACSecret {
		return nil, fmt.Errorf("token: HS256 secret must be at least %d bytes", minHMACSecret)
	}
	if kid == "" {
		return nil, errors.New("token: key id required")
	}
	return &HS256Signer{kid: kid, secret: slices.Clone(secret)}, nil
}

func (s *HS256Signer) Alg() string   { return jwt.SigningMethodHS256.Alg() }
func (s *HS256Signer) KeyID() string { return s.kid }

func (s *HS256Signer) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.secret)
}

func (s *HS256Signer) VerificationKey() any {
	return s.secret
}

func (s *HS256Signer) PublicKeys() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
}

var (
	_ Signer = (*ES256Signer)(nil)
	_ Signer = (*HS256Signer)(nil)
)
