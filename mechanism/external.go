package mechanism

import (
	"context"
	"unicode/utf8"
)

// ExternalFactory creates EXTERNAL instances, which take the identity
// from the TLS client certificate. The optional message is an authzid.
type ExternalFactory struct{}

// Descriptor implements Factory.
func (ExternalFactory) Descriptor() Descriptor {
	return Descriptor{Name: ExternalName, Precedence: 20, DefaultPermitted: true}
}

// New implements Factory. The domain must be a CertificateVerifier.
func (ExternalFactory) New(conn ConnectionInfo, domain SecurityDomain) (Mechanism, error) {
	v, ok := domain.(CertificateVerifier)
	if !ok {
		return nil, unsupportedDomain(ExternalName, domain)
	}
	return &external{verifier: v, conn: conn}, nil
}

type external struct {
	exchange
	verifier CertificateVerifier
	conn     ConnectionInfo
}

func (m *external) Step(ctx context.Context, resp []byte) (Result, error) {
	prompt, err := m.next(resp)
	if err != nil {
		return Result{}, err
	}
	if prompt {
		return Challenge(nil), nil
	}

	if len(resp) > maxFieldLen {
		return Result{}, errFieldTooLong
	}
	if !utf8.Valid(resp) {
		return Result{}, errMalformed
	}
	chain := m.conn.PeerCertificates()
	if len(chain) == 0 {
		return Result{}, errNoPeerCert
	}
	id, err := m.verifier.VerifyCertificate(ctx, string(resp), chain)
	if err != nil {
		return Result{}, err
	}
	return Success(id), nil
}

func (m *external) Dispose() {
	m.verifier = nil
	m.conn = ConnectionInfo{}
}
