// Package crl keeps offline certificate revocation lists and refreshes them
// from configured sources.
package crl

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is the revocation status of a certificate.
type Status int

const (
	// Unknown means no current list is held for the issuer.
	Unknown Status = iota
	Good
	Revoked
)

func (s Status) String() string {
	switch s {
	case Good:
		return "good"
	case Revoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// ErrUntrustedList is returned for lists not signed by a known issuer.
var ErrUntrustedList = errors.New("revocation list not signed by a trusted issuer")

type entry struct {
	list      *x509.RevocationList
	issuerKey []byte
}

// List holds at most one verified revocation list per issuer.
type List struct {
	mu       sync.RWMutex
	byIssuer map[string]entry
}

// NewList returns an empty List.
func NewList() *List {
	return &List{byIssuer: make(map[string]entry)}
}

// Update verifies rl against the candidate issuers and stores it. An older
// list never replaces a newer one.
func (l *List) Update(rl *x509.RevocationList, issuers []*x509.Certificate) error {
	var signer *x509.Certificate
	for _, issuer := range issuers {
		if !bytes.Equal(issuer.RawSubject, rl.RawIssuer) {
			continue
		}
		if err := rl.CheckSignatureFrom(issuer); err == nil {
			signer = issuer
			break
		}
	}
	if signer == nil {
		return ErrUntrustedList
	}

	key := string(rl.RawIssuer)

	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.byIssuer[key]; ok && current.list.ThisUpdate.After(rl.ThisUpdate) {
		return nil
	}
	l.byIssuer[key] = entry{list: rl, issuerKey: signer.RawSubjectPublicKeyInfo}
	return nil
}

// Status reports whether cert, issued by issuer, is revoked at now.
// A list past its NextUpdate is treated as missing.
func (l *List) Status(cert, issuer *x509.Certificate, now time.Time) Status {
	l.mu.RLock()
	e, ok := l.byIssuer[string(issuer.RawSubject)]
	l.mu.RUnlock()

	if !ok || !bytes.Equal(e.issuerKey, issuer.RawSubjectPublicKeyInfo) {
		return Unknown
	}
	if !e.list.NextUpdate.IsZero() && now.After(e.list.NextUpdate) {
		return Unknown
	}
	for _, revoked := range e.list.RevokedCertificateEntries {
		if revoked.SerialNumber.Cmp(cert.SerialNumber) == 0 && !revoked.RevocationTime.After(now) {
			return Revoked
		}
	}
	return Good
}

// Len returns the number of issuers with a list.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byIssuer)
}

// Parse accepts a DER or PEM ("X509 CRL") encoded revocation list.
func Parse(data []byte) (*x509.RevocationList, error) {
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "X509 CRL" {
			return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
		}
		data = block.Bytes
	}
	rl, err := x509.ParseRevocationList(data)
	if err != nil {
		return nil, fmt.Errorf("parse revocation list: %w", err)
	}
	return rl, nil
}
