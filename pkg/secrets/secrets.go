// Package secrets produces and checks the opaque credentials the server hands
// out: relying-party client secrets, access tokens and development HMAC keys.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"

	dErrors "once/pkg/domain-errors"
)

const (
	// ClientSecretBytes is the entropy of a generated relying-party secret.
	ClientSecretBytes = 32
	// AccessTokenBytes is the entropy of an opaque access token.
	AccessTokenBytes = 32
	// SigningKeyBytes is the size of a generated HMAC key.
	SigningKeyBytes = 48

	// bcrypt ignores input past 72 bytes.
	maxSecretBytes = 72
)

// Random returns n bytes from crypto/rand, base64url encoded without padding.
func Random(n int) (string, error) {
	if n <= 0 {
		return "", dErrors.New(dErrors.CodeValidation, "secret length must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate secret")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func NewClientSecret() (string, error) { return Random(ClientSecretBytes) }

func NewAccessToken() (string, error) { return Random(AccessTokenBytes) }

func NewSigningKey() (string, error) { return Random(SigningKeyBytes) }

// HashClientSecret returns the bcrypt hash stored in the client registry file.
func HashClientSecret(secret string) (string, error) {
	switch {
	case secret == "":
		return "", dErrors.New(dErrors.CodeValidation, "client secret cannot be empty")
	case len(secret) > maxSecretBytes:
		return "", dErrors.New(dErrors.CodeValidation, "client secret is longer than 72 bytes")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not hash client secret")
	}
	return string(hashed), nil
}

// VerifyClientSecret compares a presented secret with a registry hash. A
// mismatch is CodeInvalidClient; a malformed hash is CodeInternal.
func VerifyClientSecret(secret, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return dErrors.New(dErrors.CodeInvalidClient, "client authentication failed")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not verify client secret")
	}
}

var dummyHash = sync.OnceValue(func() []byte {
	hashed, err := bcrypt.GenerateFromPassword([]byte("once-unknown-client"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hashed
})

// CompareUnknown spends one bcrypt comparison on secret so that a request for
// an unregistered client takes as long as one with a wrong secret.
func CompareUnknown(secret string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(secret))
}
