package domain

import (
	"context"
	"crypto/x509"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/kbukum/brokersec/logger"
	"github.com/kbukum/brokersec/mechanism"
)

// errInvalidCredentials is returned for every password failure so callers
// cannot tell an unknown user from a wrong password.
var errInvalidCredentials = stderrors.New("domain: invalid credentials")

var (
	errImpersonation   = stderrors.New("domain: authorization identity differs from authenticated identity")
	errTokensDisabled  = stderrors.New("domain: bearer tokens are not configured")
	errCertNotAllowed  = stderrors.New("domain: certificate identity not allowed")
	errAnonymousDenied = stderrors.New("domain: anonymous access disabled")
)

// dummyHash keeps unknown-user checks as slow as real ones.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z6q1xH2uNwF6pP0eF4ak3Cje"

// MemoryDomain is an in-memory security domain. It serves PLAIN through
// password users, OAUTHBEARER through HMAC JWTs, EXTERNAL through
// certificate subjects and ANONYMOUS through a single on/off policy.
type MemoryDomain struct {
	name      string
	tokens    *tokenVerifier
	certs     CertificateConfig
	allowed   map[string]bool
	anonymous AnonymousConfig
	log       *logger.Logger

	mu    sync.RWMutex
	users map[string]string
}

var (
	_ mechanism.PasswordVerifier       = (*MemoryDomain)(nil)
	_ mechanism.CertificateVerifier    = (*MemoryDomain)(nil)
	_ mechanism.TokenVerifier          = (*MemoryDomain)(nil)
	_ mechanism.AnonymousAuthenticator = (*MemoryDomain)(nil)
)

// New creates a MemoryDomain from cfg.
func New(cfg Config) (*MemoryDomain, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &MemoryDomain{
		name:      cfg.Name,
		certs:     cfg.Certificates,
		anonymous: cfg.Anonymous,
		users:     make(map[string]string, len(cfg.Users)),
		log:       logger.Get("domain").WithFields(logger.Fields("domain", cfg.Name)),
	}
	for _, u := range cfg.Users {
		d.users[u.Name] = u.PasswordHash
	}
	if cfg.Tokens.Secret != "" {
		d.tokens = newTokenVerifier(cfg.Tokens)
	}
	if len(cfg.Certificates.Allowed) > 0 {
		d.allowed = make(map[string]bool, len(cfg.Certificates.Allowed))
		for _, id := range cfg.Certificates.Allowed {
			d.allowed[id] = true
		}
	}
	return d, nil
}

// Name implements mechanism.SecurityDomain.
func (d *MemoryDomain) Name() string { return d.name }

// SetPassword adds or replaces a user, hashing password with bcrypt.
func (d *MemoryDomain) SetPassword(user, password string, cost int) error {
	hash, err := NewBcryptHasher(cost).Hash(password)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.users[user] = hash
	d.mu.Unlock()
	return nil
}

// RemoveUser deletes a user.
func (d *MemoryDomain) RemoveUser(user string) {
	d.mu.Lock()
	delete(d.users, user)
	d.mu.Unlock()
}

// VerifyPassword implements mechanism.PasswordVerifier.
func (d *MemoryDomain) VerifyPassword(_ context.Context, authzid, username, password string) (mechanism.Identity, error) {
	d.mu.RLock()
	hash, ok := d.users[username]
	d.mu.RUnlock()

	if !ok {
		_ = NewBcryptHasher(10).Verify(password, dummyHash)
		return mechanism.Identity{}, errInvalidCredentials
	}
	h, err := hasherFor(hash)
	if err != nil {
		d.log.Error("stored password hash unusable", logger.Fields("user", username))
		return mechanism.Identity{}, errInvalidCredentials
	}
	if err := h.Verify(password, hash); err != nil {
		return mechanism.Identity{}, errInvalidCredentials
	}
	if err := checkAuthzid(authzid, username); err != nil {
		return mechanism.Identity{}, err
	}
	return mechanism.Identity{Name: username}, nil
}

// VerifyToken implements mechanism.TokenVerifier.
func (d *MemoryDomain) VerifyToken(_ context.Context, authzid, token string) (mechanism.Identity, error) {
	if d.tokens == nil {
		return mechanism.Identity{}, errTokensDisabled
	}
	claims, err := d.tokens.parse(token)
	if err != nil {
		return mechanism.Identity{}, err
	}
	if err := checkAuthzid(authzid, claims.Subject); err != nil {
		return mechanism.Identity{}, err
	}
	id := mechanism.Identity{Name: claims.Subject}
	if claims.Issuer != "" {
		id.Attributes = map[string]string{"issuer": claims.Issuer}
	}
	return id, nil
}

// VerifyCertificate implements mechanism.CertificateVerifier. The chain
// was already verified by the transport; only the identity is mapped here.
func (d *MemoryDomain) VerifyCertificate(_ context.Context, authzid string, chain []*x509.Certificate) (mechanism.Identity, error) {
	if len(chain) == 0 {
		return mechanism.Identity{}, fmt.Errorf("domain: empty certificate chain")
	}
	leaf := chain[0]
	name := leaf.Subject.CommonName
	if d.certs.Identity == CertIdentityDN {
		name = leaf.Subject.String()
	}
	if name == "" {
		return mechanism.Identity{}, fmt.Errorf("domain: certificate has no %s", d.certs.Identity)
	}
	if d.allowed != nil && !d.allowed[name] {
		return mechanism.Identity{}, errCertNotAllowed
	}
	if err := checkAuthzid(authzid, name); err != nil {
		return mechanism.Identity{}, err
	}
	return mechanism.Identity{
		Name:       name,
		Attributes: map[string]string{"serial": leaf.SerialNumber.String()},
	}, nil
}

// AuthenticateAnonymous implements mechanism.AnonymousAuthenticator.
func (d *MemoryDomain) AuthenticateAnonymous(_ context.Context, trace string) (mechanism.Identity, error) {
	if !d.anonymous.Enabled {
		return mechanism.Identity{}, errAnonymousDenied
	}
	id := mechanism.Identity{Name: d.anonymous.Identity}
	if trace != "" {
		id.Attributes = map[string]string{"trace": trace}
	}
	return id, nil
}

func checkAuthzid(authzid, authenticated string) error {
	if authzid != "" && authzid != authenticated {
		return errImpersonation
	}
	return nil
}
