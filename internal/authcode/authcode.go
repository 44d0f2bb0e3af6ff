// Package authcode generates single-use authorization codes and derives the
// storage key and payload key from them.
//
// The code is the only secret linking a relying party to its sealed record.
// The store sees only StorageKey; the payload key exists only in memory during
// sealing and opening.
package authcode

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/hkdf"
)

// Size is the code length in bytes (256 bits).
const Size = 32

// KeySize is the derived payload key length in bytes.
const KeySize = 32

const (
	storageKeyLabel = "once/v1/storage-key"
	payloadKeyInfo  = "once/v1/payload-key"
)

// ErrMalformed is returned by Parse for any input that is not a well-formed code.
var ErrMalformed = errors.New("malformed authorization code")

var encoding = base64.RawURLEncoding.Strict()

// Code is a single-use bearer value handed to the relying party.
type Code struct {
	b [Size]byte
}

// Generate reads Size bytes from r. Pass nil to use crypto/rand.
func Generate(r io.Reader) (Code, error) {
	if r == nil {
		r = rand.Reader
	}
	var c Code
	if _, err := io.ReadFull(r, c.b[:]); err != nil {
		return Code{}, fmt.Errorf("generate authorization code: %w", err)
	}
	return c, nil
}

// Parse decodes the wire form produced by Encode.
func Parse(s string) (Code, error) {
	if encoding.DecodedLen(len(s)) != Size {
		return Code{}, ErrMalformed
	}
	var c Code
	n, err := encoding.Decode(c.b[:], []byte(s))
	if err != nil || n != Size {
		return Code{}, ErrMalformed
	}
	return c, nil
}

// Encode returns the base64url wire form.
func (c Code) Encode() string {
	return encoding.EncodeToString(c.b[:])
}

// StorageKey is hex(SHA-256(label || code)). It identifies the record without
// revealing the code and is unrelated to the payload key.
func (c Code) StorageKey() string {
	h := sha256.New()
	h.Write([]byte(storageKeyLabel))
	h.Write(c.b[:])
	return hex.EncodeToString(h.Sum(nil))
}

// DeriveKey returns HKDF-SHA256(code, info=payload label) truncated to KeySize.
func (c Code) DeriveKey() ([]byte, error) {
	key := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, c.b[:], nil, []byte(payloadKeyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive payload key: %w", err)
	}
	return key, nil
}

// String redacts the code so that %v and %s never print it.
func (c Code) String() string {
	return "[REDACTED]"
}

// GoString redacts the code for %#v.
func (c Code) GoString() string {
	return "authcode.Code{[REDACTED]}"
}

// LogValue redacts the code in structured logs.
func (c Code) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// Zero overwrites the code bytes.
func (c *Code) Zero() {
	clear(c.b[:])
}

var _ slog.LogValuer = Code{}
