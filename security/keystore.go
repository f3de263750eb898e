package security

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

var errNoTruststore = fmt.Errorf("security/tls: trust manager needs a truststore")

// loadKeystore loads the server certificate chain and private key.
func loadKeystore(cfg *TransportConfig) (tls.Certificate, error) {
	data, err := os.ReadFile(cfg.KeystorePath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("security/tls: failed to read keystore: %w", err)
	}

	if cfg.KeystoreProvider == StorePKCS12 {
		blocks, err := pkcs12.ToPEM(data, cfg.KeystorePassword)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("security/tls: failed to decode PKCS12 keystore: %w", err)
		}
		var buf bytes.Buffer
		for _, b := range blocks {
			if err := pem.Encode(&buf, b); err != nil {
				return tls.Certificate{}, fmt.Errorf("security/tls: failed to re-encode PKCS12 keystore: %w", err)
			}
		}
		data = buf.Bytes()
	}

	keyPEM := data
	if !hasPrivateKey(data) {
		keyPEM, err = os.ReadFile(cfg.KeystorePath + ".key")
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("security/tls: keystore has no private key: %w", err)
		}
	}

	cert, err := tls.X509KeyPair(data, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("security/tls: failed to load keystore: %w", err)
	}
	return cert, nil
}

// loadTruststore loads the CA certificates. It returns nil, nil when no
// truststore is configured.
func loadTruststore(cfg *TransportConfig) (*x509.CertPool, []*x509.Certificate, error) {
	if cfg.TruststorePath == "" {
		return nil, nil, nil
	}
	data, err := os.ReadFile(cfg.TruststorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("security/tls: failed to read truststore: %w", err)
	}

	var blocks []*pem.Block
	if cfg.TruststoreProvider == StorePKCS12 {
		blocks, err = pkcs12.ToPEM(data, cfg.TruststorePassword)
		if err != nil {
			return nil, nil, fmt.Errorf("security/tls: failed to decode PKCS12 truststore: %w", err)
		}
	} else {
		for rest := data; ; {
			var b *pem.Block
			b, rest = pem.Decode(rest)
			if b == nil {
				break
			}
			blocks = append(blocks, b)
		}
	}

	pool := x509.NewCertPool()
	var certs []*x509.Certificate
	for _, b := range blocks {
		if b.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(b.Bytes)
		if err != nil {
			return nil, nil, fmt.Errorf("security/tls: failed to parse truststore certificate: %w", err)
		}
		pool.AddCert(c)
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, nil, fmt.Errorf("security/tls: truststore contains no certificates")
	}
	return pool, certs, nil
}

func hasPrivateKey(data []byte) bool {
	for rest := data; ; {
		var b *pem.Block
		b, rest = pem.Decode(rest)
		if b == nil {
			return false
		}
		if strings.HasSuffix(b.Type, "PRIVATE KEY") {
			return true
		}
	}
}
