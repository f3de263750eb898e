package mechanism

import (
	"context"
	"crypto/x509"
)

// SecurityDomain is the store mechanisms consult to verify credentials.
// Mechanisms type-assert it to the verifier they need.
type SecurityDomain interface {
	Name() string
}

// PasswordVerifier checks username and password credentials. authzid is
// the identity the peer asks to act as and may be empty.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, authzid, username, password string) (Identity, error)
}

// CertificateVerifier maps a verified peer certificate chain to an identity.
type CertificateVerifier interface {
	VerifyCertificate(ctx context.Context, authzid string, chain []*x509.Certificate) (Identity, error)
}

// TokenVerifier checks a bearer token.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, authzid, token string) (Identity, error)
}

// AnonymousAuthenticator decides whether an anonymous peer is admitted.
// Domains that do not implement it admit anonymous peers as "anonymous"
// once the mechanism is permitted.
type AnonymousAuthenticator interface {
	AuthenticateAnonymous(ctx context.Context, trace string) (Identity, error)
}
