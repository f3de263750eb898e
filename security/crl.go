package security

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// revocationList is a parsed CRL reduced to what the handshake needs.
type revocationList struct {
	issuer     []byte
	serials    map[string]struct{}
	nextUpdate time.Time
}

// loadCRL parses a PEM or DER CRL. When the issuing CA is in the
// truststore the CRL signature is checked against it.
func loadCRL(path string, trusted []*x509.Certificate) (*revocationList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("security/tls: failed to read CRL: %w", err)
	}
	if b, _ := pem.Decode(data); b != nil {
		if b.Type != "X509 CRL" {
			return nil, fmt.Errorf("security/tls: unexpected PEM block %q in CRL file", b.Type)
		}
		data = b.Bytes
	}

	crl, err := x509.ParseRevocationList(data)
	if err != nil {
		return nil, fmt.Errorf("security/tls: failed to parse CRL: %w", err)
	}
	for _, ca := range trusted {
		if !bytes.Equal(ca.RawSubject, crl.RawIssuer) {
			continue
		}
		if err := crl.CheckSignatureFrom(ca); err != nil {
			return nil, fmt.Errorf("security/tls: CRL signature: %w", err)
		}
		break
	}

	rl := &revocationList{
		issuer:     crl.RawIssuer,
		serials:    make(map[string]struct{}, len(crl.RevokedCertificateEntries)),
		nextUpdate: crl.NextUpdate,
	}
	for _, e := range crl.RevokedCertificateEntries {
		rl.serials[e.SerialNumber.String()] = struct{}{}
	}
	return rl, nil
}

// verifier rejects any presented certificate issued by the CRL issuer
// whose serial is listed.
func (rl *revocationList) verifier() PeerVerifier {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		certs, err := parseCertificates(rawCerts)
		if err != nil {
			return err
		}
		for _, c := range certs {
			if !bytes.Equal(c.RawIssuer, rl.issuer) {
				continue
			}
			if _, revoked := rl.serials[c.SerialNumber.String()]; revoked {
				return fmt.Errorf("security/tls: certificate serial %s is revoked", c.SerialNumber)
			}
		}
		return nil
	}
}

func (rl *revocationList) expired(now time.Time) bool {
	return !rl.nextUpdate.IsZero() && now.After(rl.nextUpdate)
}
