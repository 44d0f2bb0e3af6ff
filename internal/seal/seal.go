// Package seal encrypts consent payloads with XChaCha20-Poly1305.
package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the XChaCha20-Poly1305 nonce length.
const NonceSize = chacha20poly1305.NonceSizeX

var (
	// ErrIntegrity covers every authentication failure: wrong key, modified
	// ciphertext, modified nonce or mismatched associated data.
	ErrIntegrity = errors.New("payload integrity failure")
	// ErrKeySize is returned for keys that are not 32 bytes.
	ErrKeySize = errors.New("seal key must be 32 bytes")
)

// Sealed is an encrypted payload and the nonce it was sealed with.
type Sealed struct {
	Nonce      []byte
	Ciphertext []byte
}

// Sealer seals with a configurable nonce source.
type Sealer struct {
	rand io.Reader
}

// New returns a Sealer drawing nonces from r, or crypto/rand when r is nil.
func New(r io.Reader) *Sealer {
	if r == nil {
		r = rand.Reader
	}
	return &Sealer{rand: r}
}

// Seal encrypts payload under key with a fresh random nonce.
func (s *Sealer) Seal(key, payload, aad []byte) (*Sealed, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	return &Sealed{
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, payload, aad),
	}, nil
}

// Open authenticates and decrypts sealed. On any failure it returns
// ErrIntegrity and no plaintext.
func (s *Sealer) Open(key []byte, sealed *Sealed, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if sealed == nil || len(sealed.Nonce) != NonceSize || len(sealed.Ciphertext) < aead.Overhead() {
		return nil, ErrIntegrity
	}

	plaintext, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, aad)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// Seal encrypts with crypto/rand nonces.
func Seal(key, payload, aad []byte) (*Sealed, error) {
	return defaultSealer.Seal(key, payload, aad)
}

// Open decrypts a payload produced by Seal.
func Open(key []byte, sealed *Sealed, aad []byte) ([]byte, error) {
	return defaultSealer.Open(key, sealed, aad)
}

var defaultSealer = New(nil)

// AssociatedData binds a ciphertext to its record and its client:
// storage key || 0x00 || client id.
func AssociatedData(storageKey, clientID string) []byte {
	aad := make([]byte, 0, len(storageKey)+1+len(clientID))
	aad = append(aad, storageKey...)
	aad = append(aad, 0x00)
	aad = append(aad, clientID...)
	return aad
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeySize
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return aead, nil
}
