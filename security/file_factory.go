package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/kbukum/brokersec/logger"
	"github.com/kbukum/brokersec/provider"
)

// FileContextFactory builds contexts from keystore, truststore and CRL
// files on disk. It is registered as the built-in provider at priority 0.
type FileContextFactory struct {
	trustManagers *provider.Catalog[TrustManagerFactory]
	log           *logger.Logger
	now           func() time.Time
}

// NewFileContextFactory creates a factory resolving trust_manager_plugin
// names against trustManagers.
func NewFileContextFactory(trustManagers *provider.Catalog[TrustManagerFactory]) *FileContextFactory {
	return &FileContextFactory{
		trustManagers: trustManagers,
		log:           logger.Get("security"),
		now:           time.Now,
	}
}

// BuildContext implements ContextFactory.
func (f *FileContextFactory) BuildContext(ctx context.Context, cfg TransportConfig) (*tls.Config, error) {
	cfg.ApplyDefaults()

	tc := &tls.Config{
		MinVersion: cfg.tlsMinVersion(),
		ClientAuth: cfg.clientAuthType(),
	}

	cert, err := loadKeystore(&cfg)
	if err != nil {
		return nil, err
	}
	tc.Certificates = []tls.Certificate{cert}

	roots, trusted, err := loadTruststore(&cfg)
	if err != nil {
		return nil, err
	}
	tc.ClientCAs = roots
	tc.RootCAs = roots

	var verifiers []PeerVerifier

	if cfg.TrustAll || cfg.TrustManagerPlugin != "" {
		skipChainVerification(tc)
	}

	if cfg.TrustManagerPlugin != "" && !cfg.TrustAll {
		d, ok, err := f.trustManagers.Lookup(ctx, cfg.TrustManagerPlugin)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("security/tls: trust manager plugin %q is not installed", cfg.TrustManagerPlugin)
		}
		v, err := d.Provider.NewVerifier(roots)
		if err != nil {
			return nil, fmt.Errorf("security/tls: trust manager plugin %q: %w", cfg.TrustManagerPlugin, err)
		}
		verifiers = append(verifiers, v)
	}

	if cfg.CRLPath != "" {
		crl, err := loadCRL(cfg.CRLPath, trusted)
		if err != nil {
			return nil, err
		}
		if crl.expired(f.now()) {
			f.log.Warn("certificate revocation list is past its next update", logger.Fields(
				"crl_path", cfg.CRLPath,
			))
		}
		verifiers = append(verifiers, crl.verifier())
	}

	if len(verifiers) > 0 {
		tc.VerifyPeerCertificate = chainVerifiers(verifiers)
	}
	return tc, nil
}

// skipChainVerification keeps the requested client certificate policy
// but stops the TLS stack from verifying chains itself.
func skipChainVerification(tc *tls.Config) {
	tc.InsecureSkipVerify = true
	switch tc.ClientAuth {
	case tls.RequireAndVerifyClientCert:
		tc.ClientAuth = tls.RequireAnyClientCert
	case tls.VerifyClientCertIfGiven:
		tc.ClientAuth = tls.RequestClientCert
	}
}

func chainVerifiers(vs []PeerVerifier) PeerVerifier {
	return func(rawCerts [][]byte, chains [][]*x509.Certificate) error {
		for _, v := range vs {
			if err := v(rawCerts, chains); err != nil {
				return err
			}
		}
		return nil
	}
}
