package domain

import (
	"fmt"

	"github.com/kbukum/brokersec/validation"
)

// Certificate identity sources.
const (
	CertIdentityCN = "cn"
	CertIdentityDN = "dn"
)

// Config configures a MemoryDomain.
type Config struct {
	Name         string            `mapstructure:"name" validate:"required"`
	Users        []UserConfig      `mapstructure:"users" validate:"dive"`
	Tokens       TokenConfig       `mapstructure:"tokens"`
	Certificates CertificateConfig `mapstructure:"certificates"`
	Anonymous    AnonymousConfig   `mapstructure:"anonymous"`
}

// UserConfig is one password user. PasswordHash is a bcrypt or argon2id hash.
type UserConfig struct {
	Name         string `mapstructure:"name" validate:"required,max=255"`
	PasswordHash string `mapstructure:"password_hash" validate:"required"`
}

// TokenConfig enables HMAC JWT bearer tokens. Tokens are rejected while
// Secret is empty.
type TokenConfig struct {
	Method   string `mapstructure:"method" validate:"omitempty,oneof=HS256 HS384 HS512"`
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

// CertificateConfig maps TLS client certificates to identities.
type CertificateConfig struct {
	// Identity selects the subject common name or the full distinguished name.
	Identity string `mapstructure:"identity" validate:"omitempty,oneof=cn dn"`
	// Allowed restricts which identities may authenticate. Empty admits any
	// certificate that passed transport verification.
	Allowed []string `mapstructure:"allowed"`
}

// AnonymousConfig decides whether anonymous peers are admitted.
type AnonymousConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Identity string `mapstructure:"identity"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Tokens.Method == "" {
		c.Tokens.Method = HS256
	}
	if c.Certificates.Identity == "" {
		c.Certificates.Identity = CertIdentityCN
	}
	if c.Anonymous.Identity == "" {
		c.Anonymous.Identity = "anonymous"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		if seen[u.Name] {
			return fmt.Errorf("domain: duplicate user %q", u.Name)
		}
		seen[u.Name] = true
		if _, err := hasherFor(u.PasswordHash); err != nil {
			return fmt.Errorf("domain: user %q: %w", u.Name, err)
		}
	}
	return nil
}
