package main

import (
	"fmt"
	"strconv"

	"github.com/kbukum/brokersec/admin"
	"github.com/kbukum/brokersec/config"
	"github.com/kbukum/brokersec/domain"
	"github.com/kbukum/brokersec/encryption"
	"github.com/kbukum/brokersec/listener"
	"github.com/kbukum/brokersec/observability"
)

const serviceName = "brokersecd"

// DaemonConfig is the full configuration file of brokersecd.
type DaemonConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
	Admin         admin.Config         `yaml:"admin" mapstructure:"admin"`
	Domain        domain.Config        `yaml:"domain" mapstructure:"domain"`
	Listeners     []listener.Config    `yaml:"listeners" mapstructure:"listeners"`

	// SecretKey opens "enc:" values in this file. Set it through
	// BROKERSEC_SECRET_KEY rather than in the file itself.
	SecretKey string `yaml:"-" mapstructure:"secret_key"`
}

// ApplyDefaults fills zero values in every section.
func (c *DaemonConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	c.ServiceConfig.ApplyDefaults()
	if c.Observability.Environment == "" {
		c.Observability.Environment = c.Environment
	}
	c.Observability.ApplyDefaults()
	c.Admin.ApplyDefaults()
	c.Domain.ApplyDefaults()
	for i := range c.Listeners {
		c.Listeners[i].ApplyDefaults()
	}
}

// Validate checks every section.
func (c *DaemonConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Observability.Validate(); err != nil {
		return err
	}
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if err := c.Domain.Validate(); err != nil {
		return err
	}
	if len(c.Listeners) == 0 {
		return fmt.Errorf("at least one listener is required")
	}
	seen := make(map[string]bool, len(c.Listeners))
	for i := range c.Listeners {
		l := &c.Listeners[i]
		if err := l.Validate(); err != nil {
			return fmt.Errorf("listeners[%d]: %w", i, err)
		}
		if seen[l.Name] {
			return fmt.Errorf("listeners[%d]: duplicate name %q", i, l.Name)
		}
		seen[l.Name] = true
	}
	return nil
}

// openSecrets decrypts sealed passwords and token secrets in place.
func (c *DaemonConfig) openSecrets() error {
	var enc encryption.Encryptor
	if c.SecretKey != "" {
		var err error
		if enc, err = encryption.New(c.SecretKey); err != nil {
			return err
		}
	}
	fields := map[string]*string{"domain.tokens.secret": &c.Domain.Tokens.Secret}
	for i := range c.Listeners {
		if t := c.Listeners[i].TLS; t != nil {
			prefix := "listeners[" + strconv.Itoa(i) + "].tls."
			fields[prefix+"keystore_password"] = &t.KeystorePassword
			fields[prefix+"truststore_password"] = &t.TruststorePassword
		}
	}
	return encryption.OpenAll(enc, fields)
}
