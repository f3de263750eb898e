package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"

	"github.com/kbukum/brokersec/provider"
)

// ContextFactory builds server-side TLS configurations from a
// TransportConfig. Implementations register with ContextFactories; the
// highest-priority one is used by every Resolver.
type ContextFactory interface {
	BuildContext(ctx context.Context, cfg TransportConfig) (*tls.Config, error)
}

// ContextClearer is implemented by factories that hold their own caches.
// Resolver.InvalidateAll calls it after dropping its cached contexts.
type ContextClearer interface {
	ClearContexts()
}

// PeerVerifier inspects the peer certificates presented during a
// handshake. It has the signature of tls.Config.VerifyPeerCertificate.
type PeerVerifier func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error

// TrustManagerFactory creates a PeerVerifier that replaces chain
// verification for listeners naming it in trust_manager_plugin. roots is
// the configured truststore and may be nil.
type TrustManagerFactory interface {
	NewVerifier(roots *x509.CertPool) (PeerVerifier, error)
}

// TrustManagerFunc adapts a function to TrustManagerFactory.
type TrustManagerFunc func(roots *x509.CertPool) (PeerVerifier, error)

// NewVerifier calls f(roots).
func (f TrustManagerFunc) NewVerifier(roots *x509.CertPool) (PeerVerifier, error) {
	return f(roots)
}

// Capability names.
const (
	CapabilityContextFactory = "transport-security-context"
	CapabilityTrustManager   = "trust-manager"
)

var (
	// ContextFactories is the process-wide catalog of context factories.
	// At least one must be installed; the file factory is built in.
	ContextFactories = provider.NewCatalog[ContextFactory](CapabilityContextFactory, provider.Required())

	// TrustManagers is the process-wide catalog of trust manager plugins.
	TrustManagers = provider.NewCatalog[TrustManagerFactory](CapabilityTrustManager)
)

// Built-in provider names.
const (
	FileFactoryName   = "file"
	AnyUsageTrustName = "any-usage"
)

func init() {
	ContextFactories.Register(FileFactoryName, 0, NewFileContextFactory(TrustManagers))
	TrustManagers.Register(AnyUsageTrustName, 0, TrustManagerFunc(anyUsageVerifier))
}

// anyUsageVerifier verifies the peer chain against roots without
// requiring the client-auth extended key usage, for fleets whose client
// certificates were issued as server certificates.
func anyUsageVerifier(roots *x509.CertPool) (PeerVerifier, error) {
	if roots == nil {
		return nil, errNoTruststore
	}
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return nil
		}
		certs, err := parseCertificates(rawCerts)
		if err != nil {
			return err
		}
		intermediates := x509.NewCertPool()
		for _, c := range certs[1:] {
			intermediates.AddCert(c)
		}
		_, err = certs[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		})
		return err
	}, nil
}

func parseCertificates(rawCerts [][]byte) ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		c, err := x509.ParseCertificate(raw)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	return certs, nil
}
