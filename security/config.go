package security

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/kbukum/brokersec/validation"
)

// Store formats accepted for keystores and truststores.
const (
	StorePEM    = "PEM"
	StorePKCS12 = "PKCS12"
)

// Client certificate policies.
const (
	ClientAuthNone    = "none"
	ClientAuthRequest = "request"
	ClientAuthRequire = "require"
)

// TransportConfig describes how a listener secures its transport. Every
// field takes part in the fingerprint, so two listeners share a context
// only when their configurations are identical.
type TransportConfig struct {
	// KeystoreProvider is the keystore format: PEM (default) or PKCS12.
	KeystoreProvider string `yaml:"keystore_provider" mapstructure:"keystore_provider" validate:"omitempty,oneof=PEM PKCS12"`
	// KeystorePath holds the server certificate chain and private key. A
	// PEM keystore without a key block reads the key from KeystorePath+".key".
	KeystorePath     string `yaml:"keystore_path" mapstructure:"keystore_path" validate:"required"`
	KeystorePassword string `yaml:"keystore_password" mapstructure:"keystore_password"`

	TruststoreProvider string `yaml:"truststore_provider" mapstructure:"truststore_provider" validate:"omitempty,oneof=PEM PKCS12"`
	// TruststorePath holds the CA certificates used to verify peers.
	TruststorePath     string `yaml:"truststore_path" mapstructure:"truststore_path"`
	TruststorePassword string `yaml:"truststore_password" mapstructure:"truststore_password"`

	// CRLPath is a PEM or DER certificate revocation list.
	CRLPath string `yaml:"crl_path" mapstructure:"crl_path"`
	// TrustManagerPlugin names a registered TrustManagerFactory that takes
	// over peer verification.
	TrustManagerPlugin string `yaml:"trust_manager_plugin" mapstructure:"trust_manager_plugin"`
	// TrustAll accepts any peer certificate without chain verification.
	// Not recommended for production.
	TrustAll bool `yaml:"trust_all" mapstructure:"trust_all"`

	// ClientAuth is none, request or require. Defaults to request when a
	// truststore is configured and none otherwise.
	ClientAuth string `yaml:"client_auth" mapstructure:"client_auth" validate:"omitempty,oneof=none request require"`
	// MinVersion is "1.2" (default) or "1.3".
	MinVersion string `yaml:"min_version" mapstructure:"min_version" validate:"omitempty,oneof=1.2 1.3"`
}

// ApplyDefaults fills zero values.
func (c *TransportConfig) ApplyDefaults() {
	c.KeystoreProvider = normalizeStore(c.KeystoreProvider)
	c.TruststoreProvider = normalizeStore(c.TruststoreProvider)
	if c.ClientAuth == "" {
		if c.TruststorePath != "" {
			c.ClientAuth = ClientAuthRequest
		} else {
			c.ClientAuth = ClientAuthNone
		}
	}
	if c.MinVersion == "" {
		c.MinVersion = "1.2"
	}
}

// Validate checks that the configuration is consistent.
func (c *TransportConfig) Validate() error {
	if err := validation.Validate(c); err != nil {
		return err
	}
	v := validation.New()
	v.Custom(c.ClientAuth != ClientAuthRequire || c.TruststorePath != "" || c.TrustAll || c.TrustManagerPlugin != "",
		"client_auth", "require needs a truststore, trust_all or a trust manager plugin")
	v.Custom(c.TruststorePassword == "" || c.TruststorePath != "",
		"truststore_password", "is set without truststore_path")
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

func normalizeStore(s string) string {
	if s == "" {
		return StorePEM
	}
	return strings.ToUpper(s)
}

func (c *TransportConfig) tlsMinVersion() uint16 {
	if c.MinVersion == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

func (c *TransportConfig) clientAuthType() tls.ClientAuthType {
	switch c.ClientAuth {
	case ClientAuthRequire:
		return tls.RequireAndVerifyClientCert
	case ClientAuthRequest:
		return tls.VerifyClientCertIfGiven
	default:
		return tls.NoClientCert
	}
}

// Fingerprint is a digest of every TransportConfig field, passwords
// included. It identifies a configuration without revealing it.
type Fingerprint [sha256.Size]byte

// String returns the full hex digest.
func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// Short returns a 12-character prefix suitable for logs and errors.
func (f Fingerprint) Short() string { return f.String()[:12] }

// Fingerprint computes the configuration fingerprint. Fields are length
// prefixed so that no two distinct configurations share an encoding.
func (c TransportConfig) Fingerprint() Fingerprint {
	h := sha256.New()
	var n [8]byte
	write := func(s string) {
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	write("brokersec/transport/v1")
	write(c.KeystoreProvider)
	write(c.KeystorePath)
	write(c.KeystorePassword)
	write(c.TruststoreProvider)
	write(c.TruststorePath)
	write(c.TruststorePassword)
	write(c.CRLPath)
	write(c.TrustManagerPlugin)
	write(strconv.FormatBool(c.TrustAll))
	write(c.ClientAuth)
	write(c.MinVersion)

	var f Fingerprint
	copy(f[:], h.Sum(nil))
	return f
}

// String renders the configuration with passwords redacted.
func (c TransportConfig) String() string {
	return fmt.Sprintf("keystore=%s:%s truststore=%s:%s crl=%q plugin=%q trust_all=%t client_auth=%s min_version=%s",
		c.KeystoreProvider, c.KeystorePath, c.TruststoreProvider, c.TruststorePath,
		c.CRLPath, c.TrustManagerPlugin, c.TrustAll, c.ClientAuth, c.MinVersion)
}
