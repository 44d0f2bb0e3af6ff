// Package certtest builds throwaway eID PKIs for tests: a root CA, an
// issuing CA, citizen leaf certificates and signed revocation lists.
package certtest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"sync/atomic"
	"testing"
	"time"
)

var (
	oidGivenName                  = asn1.ObjectIdentifier{2, 5, 4, 42}
	oidSurname                    = asn1.ObjectIdentifier{2, 5, 4, 4}
	oidSubjectDirectoryAttributes = asn1.ObjectIdentifier{2, 5, 29, 9}
	oidDateOfBirth                = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 9, 1}
)

var serial atomic.Int64

// Authority is a CA certificate with its signing key.
type Authority struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// PKI is a two-level hierarchy: Root signs Issuing, Issuing signs citizens.
type PKI struct {
	Root    *Authority
	Issuing *Authority
}

// Citizen describes the subject of a leaf certificate.
type Citizen struct {
	CommonName   string
	GivenName    string
	Surname      string
	SerialNumber string
	DateOfBirth  time.Time
	NotBefore    time.Time
	NotAfter     time.Time
	ExtKeyUsage  []x509.ExtKeyUsage
	// RawDirectoryAttributes overrides the encoded subjectDirectoryAttributes.
	RawDirectoryAttributes []byte
}

// Ana returns the citizen used across pipeline tests: Ana Garcia, born
// 2000-01-01, national id 39001010000.
func Ana() Citizen {
	return Citizen{
		CommonName:   "ANA GARCIA",
		GivenName:    "Ana",
		Surname:      "Garcia",
		SerialNumber: "PNOLT-39001010000",
		DateOfBirth:  time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// NewPKI creates a root and an issuing CA valid around now.
func NewPKI(t testing.TB) *PKI {
	t.Helper()
	root := newAuthority(t, "Once Test Root CA", nil)
	issuing := newAuthority(t, "Once Test Issuing CA", root)
	return &PKI{Root: root, Issuing: issuing}
}

// Roots returns a pool holding only the root.
func (p *PKI) Roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(p.Root.Cert)
	return pool
}

// Issue signs a citizen certificate with the issuing CA.
func (p *PKI) Issue(t testing.TB, c Citizen) (*x509.Certificate, crypto.Signer) {
	t.Helper()
	return issue(t, p.Issuing, c)
}

// Chain issues a citizen certificate and returns leaf, issuing CA.
func (p *PKI) Chain(t testing.TB, c Citizen) []*x509.Certificate {
	t.Helper()
	leaf, _ := p.Issue(t, c)
	return []*x509.Certificate{leaf, p.Issuing.Cert}
}

// CRL returns a DER revocation list signed by a, revoking the given serials.
func CRL(t testing.TB, a *Authority, thisUpdate, nextUpdate time.Time, revoked ...*big.Int) []byte {
	t.Helper()
	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, sn := range revoked {
		entries = append(entries, x509.RevocationListEntry{SerialNumber: sn, RevocationTime: thisUpdate.Add(-time.Minute)})
	}
	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(serial.Add(1)),
		ThisUpdate:                thisUpdate,
		NextUpdate:                nextUpdate,
		RevokedCertificateEntries: entries,
	}, a.Cert, a.Key)
	if err != nil {
		t.Fatalf("create revocation list: %v", err)
	}
	return der
}

// ParseCRL is a test shortcut for x509.ParseRevocationList.
func ParseCRL(t testing.TB, der []byte) *x509.RevocationList {
	t.Helper()
	rl, err := x509.ParseRevocationList(der)
	if err != nil {
		t.Fatalf("parse revocation list: %v", err)
	}
	return rl
}

// PEM encodes certificates as a PEM bundle.
func PEM(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}

func newAuthority(t testing.TB, name string, parent *Authority) *Authority {
	t.Helper()
	key := newKey(t)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial.Add(1)),
		Subject:               pkix.Name{CommonName: name, Organization: []string{"Once Test"}},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	signerCert, signerKey := tmpl, crypto.Signer(key)
	if parent != nil {
		signerCert, signerKey = parent.Cert, parent.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signerCert, key.Public(), signerKey)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	return &Authority{Cert: cert, Key: key}
}

func issue(t testing.TB, a *Authority, c Citizen) (*x509.Certificate, crypto.Signer) {
	t.Helper()
	key := newKey(t)

	notBefore, notAfter := c.NotBefore, c.NotAfter
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Hour)
	}
	if notAfter.IsZero() {
		notAfter = time.Now().Add(365 * 24 * time.Hour)
	}
	eku := c.ExtKeyUsage
	if eku == nil {
		eku = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}

	subject := pkix.Name{
		CommonName:   c.CommonName,
		SerialNumber: c.SerialNumber,
		Country:      []string{"LT"},
	}
	if c.GivenName != "" {
		subject.ExtraNames = append(subject.ExtraNames, pkix.AttributeTypeAndValue{Type: oidGivenName, Value: c.GivenName})
	}
	if c.Surname != "" {
		subject.ExtraNames = append(subject.ExtraNames, pkix.AttributeTypeAndValue{Type: oidSurname, Value: c.Surname})
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject:      subject,
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  eku,
	}

	dirAttrs := c.RawDirectoryAttributes
	if dirAttrs == nil && !c.DateOfBirth.IsZero() {
		dirAttrs = DirectoryAttributes(t, c.DateOfBirth)
	}
	if dirAttrs != nil {
		tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, pkix.Extension{Id: oidSubjectDirectoryAttributes, Value: dirAttrs})
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.Cert, key.Public(), a.Key)
	if err != nil {
		t.Fatalf("create citizen certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse citizen certificate: %v", err)
	}
	return cert, key
}

type directoryAttribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// DirectoryAttributes encodes a subjectDirectoryAttributes value carrying dob.
func DirectoryAttributes(t testing.TB, dob time.Time) []byte {
	t.Helper()
	value, err := asn1.MarshalWithParams(dob.UTC(), "generalized")
	if err != nil {
		t.Fatalf("marshal date of birth: %v", err)
	}
	der, err := asn1.Marshal([]directoryAttribute{{
		Type:   oidDateOfBirth,
		Values: []asn1.RawValue{{FullBytes: value}},
	}})
	if err != nil {
		t.Fatalf("marshal directory attributes: %v", err)
	}
	return der
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}
