// Package tlstest generates TLS fixtures for tests: a CA, a server
// certificate, client certificates and CRLs. Files land in t.TempDir()
// and are removed when the test ends.
//
//	func TestWithTLS(t *testing.T) {
//	    certs := tlstest.GenerateTLSCerts(t)
//	    client := tlstest.GenerateClientCert(t, certs, "alice")
//	    crl := tlstest.GenerateCRL(t, certs, client.Cert)
//	}
package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TLSCerts holds paths to generated TLS certificate files and parsed objects.
type TLSCerts struct {
	// CAFile is the path to the CA certificate PEM file.
	CAFile string
	// CertFile is the path to the server certificate PEM file.
	CertFile string
	// KeyFile is the path to the server private key PEM file.
	KeyFile string
	// KeystoreFile holds the server certificate and key in one PEM file.
	KeystoreFile string

	CACert *x509.Certificate
	// CAKey signs additional certificates and CRLs.
	CAKey *ecdsa.PrivateKey
	// ServerTLS is a ready-to-use tls.Certificate.
	ServerTLS tls.Certificate
	// CertPool contains the CA certificate.
	CertPool *x509.CertPool
}

// ClientCert is a CA-signed client certificate.
type ClientCert struct {
	CertFile string
	KeyFile  string
	Cert     *x509.Certificate
	TLS      tls.Certificate
}

// GenerateTLSCerts creates a self-signed CA and a server certificate valid
// for localhost, 127.0.0.1 and [::1].
func GenerateTLSCerts(t testing.TB) *TLSCerts {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("tlstest: generate CA key: %v", err)
	}

	caTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"brokersec Test CA"},
			CommonName:   "brokersec Test CA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("tlstest: create CA cert: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("tlstest: parse CA cert: %v", err)
	}

	caFile := filepath.Join(dir, "ca.pem")
	writePEM(t, caFile, "CERTIFICATE", caDER)

	serverKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("tlstest: generate server key: %v", err)
	}

	serverTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject: pkix.Name{
			Organization: []string{"brokersec Test"},
			CommonName:   "localhost",
		},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	serverDER, err := x509.CreateCertificate(rand.Reader, serverTemplate, caCert, &serverKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("tlstest: create server cert: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(serverKey)
	if err != nil {
		t.Fatalf("tlstest: marshal server key: %v", err)
	}

	certFile := filepath.Join(dir, "cert.pem")
	writePEM(t, certFile, "CERTIFICATE", serverDER)
	keyFile := filepath.Join(dir, "key.pem")
	writePEM(t, keyFile, "EC PRIVATE KEY", keyDER)

	keystoreFile := filepath.Join(dir, "keystore.pem")
	writeBlocks(t, keystoreFile,
		&pem.Block{Type: "CERTIFICATE", Bytes: serverDER},
		&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER},
	)

	serverTLS, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("tlstest: load key pair: %v", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	return &TLSCerts{
		CAFile:       caFile,
		CertFile:     certFile,
		KeyFile:      keyFile,
		KeystoreFile: keystoreFile,
		CACert:       caCert,
		CAKey:        caKey,
		ServerTLS:    serverTLS,
		CertPool:     pool,
	}
}

// GenerateClientCert issues a client certificate with the given common
// name, signed by the CA in certs.
func GenerateClientCert(t testing.TB, certs *TLSCerts, commonName string) *ClientCert {
	t.Helper()
	dir := t.TempDir()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("tlstest: generate client key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("tlstest: serial: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial.Add(serial, big.NewInt(100)),
		Subject: pkix.Name{
			Organization: []string{"brokersec Test"},
			CommonName:   commonName,
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, certs.CACert, &key.PublicKey, certs.CAKey)
	if err != nil {
		t.Fatalf("tlstest: create client cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("tlstest: parse client cert: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("tlstest: marshal client key: %v", err)
	}

	certFile := filepath.Join(dir, "client.pem")
	writePEM(t, certFile, "CERTIFICATE", der)
	keyFile := filepath.Join(dir, "client-key.pem")
	writePEM(t, keyFile, "EC PRIVATE KEY", keyDER)

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("tlstest: load client key pair: %v", err)
	}
	return &ClientCert{CertFile: certFile, KeyFile: keyFile, Cert: cert, TLS: pair}
}

// GenerateCRL writes a PEM CRL signed by the CA in certs that revokes the
// given certificates, and returns its path.
func GenerateCRL(t testing.TB, certs *TLSCerts, revoked ...*x509.Certificate) string {
	t.Helper()

	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, c := range revoked {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   c.SerialNumber,
			RevocationTime: time.Now().Add(-time.Minute),
		})
	}

	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(1),
		ThisUpdate:                time.Now().Add(-time.Hour),
		NextUpdate:                time.Now().Add(24 * time.Hour),
		RevokedCertificateEntries: entries,
	}, certs.CACert, certs.CAKey)
	if err != nil {
		t.Fatalf("tlstest: create CRL: %v", err)
	}

	path := filepath.Join(t.TempDir(), "crl.pem")
	writePEM(t, path, "X509 CRL", der)
	return path
}

// WriteInvalidPEM writes a file that looks like PEM but holds no valid
// certificate.
func WriteInvalidPEM(t testing.TB, filename string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), filename)
	content := []byte("-----BEGIN CERTIFICATE-----\nnot-valid-base64-data\n-----END CERTIFICATE-----\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("tlstest: write invalid PEM: %v", err)
	}
	return path
}

func writePEM(t testing.TB, path, blockType string, data []byte) {
	t.Helper()
	writeBlocks(t, path, &pem.Block{Type: blockType, Bytes: data})
}

func writeBlocks(t testing.TB, path string, blocks ...*pem.Block) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("tlstest: create %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	for _, b := range blocks {
		if err := pem.Encode(f, b); err != nil {
			t.Fatalf("tlstest: encode PEM %s: %v", path, err)
		}
	}
}
