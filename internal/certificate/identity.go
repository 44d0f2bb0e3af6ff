package certificate

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	oidGivenName                  = asn1.ObjectIdentifier{2, 5, 4, 42}
	oidSurname                    = asn1.ObjectIdentifier{2, 5, 4, 4}
	oidSubjectDirectoryAttributes = asn1.ObjectIdentifier{2, 5, 29, 9}
	oidDateOfBirth                = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 9, 1}
)

// Semantics identifier prefix on subject serialNumber, e.g. "PNOLT-" for a
// national personal number issued in Lithuania.
var semanticsPrefix = regexp.MustCompile(`^(PNO|IDC)[A-Z]{2}-`)

// Identity holds the attributes read from a verified eID certificate.
// It lives for one request and is never persisted.
type Identity struct {
	CommonName   string
	GivenName    string
	FamilyName   string
	NationalID   string
	DateOfBirth  time.Time
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	Thumbprint   string
}

// HasDateOfBirth reports whether the certificate carried a date of birth.
func (i *Identity) HasDateOfBirth() bool {
	return !i.DateOfBirth.IsZero()
}

// Thumbprint returns the hex SHA-256 of the DER certificate.
func Thumbprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

type directoryAttribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

func parseIdentity(cert *x509.Certificate) (*Identity, error) {
	id := &Identity{
		CommonName:   strings.TrimSpace(cert.Subject.CommonName),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.Text(16),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		Thumbprint:   Thumbprint(cert),
	}

	for _, atv := range cert.Subject.Names {
		value, ok := atv.Value.(string)
		if !ok {
			continue
		}
		switch {
		case atv.Type.Equal(oidGivenName):
			id.GivenName = strings.TrimSpace(value)
		case atv.Type.Equal(oidSurname):
			id.FamilyName = strings.TrimSpace(value)
		}
	}

	id.NationalID = semanticsPrefix.ReplaceAllString(strings.TrimSpace(cert.Subject.SerialNumber), "")
	if id.NationalID == "" {
		return nil, fmt.Errorf("%w: subject serialNumber missing", ErrMalformed)
	}

	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidSubjectDirectoryAttributes) {
			continue
		}
		dob, err := parseDateOfBirth(ext.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		id.DateOfBirth = dob
	}

	return id, nil
}

func parseDateOfBirth(der []byte) (time.Time, error) {
	var attrs []directoryAttribute
	rest, err := asn1.Unmarshal(der, &attrs)
	if err != nil {
		return time.Time{}, fmt.Errorf("subject directory attributes: %w", err)
	}
	if len(rest) > 0 {
		return time.Time{}, fmt.Errorf("subject directory attributes: trailing data")
	}

	for _, attr := range attrs {
		if !attr.Type.Equal(oidDateOfBirth) || len(attr.Values) == 0 {
			continue
		}
		var dob time.Time
		if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &dob); err != nil {
			return time.Time{}, fmt.Errorf("date of birth: %w", err)
		}
		y, m, d := dob.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, nil
}
