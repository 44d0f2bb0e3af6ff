package certificate

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadTrustRoots reads PEM bundles and returns a pool of their CA
// certificates together with the parsed certificates.
func LoadTrustRoots(paths ...string) (*x509.CertPool, []*x509.Certificate, error) {
	certs, err := LoadCACertificates(paths...)
	if err != nil {
		return nil, nil, err
	}
	if len(certs) == 0 {
		return nil, nil, fmt.Errorf("no trust roots configured")
	}
	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool, certs, nil
}

// LoadCACertificates reads every CERTIFICATE block from the PEM files.
// Non-CA certificates are rejected.
func LoadCACertificates(paths ...string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		parsed, err := ParsePEMCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, c := range parsed {
			if !c.IsCA {
				return nil, fmt.Errorf("parse %s: %q is not a CA certificate", path, c.Subject.String())
			}
		}
		certs = append(certs, parsed...)
	}
	return certs, nil
}

// ParsePEMCertificates decodes all CERTIFICATE blocks in data.
func ParsePEMCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates found")
	}
	return certs, nil
}
