package listener

import (
	"github.com/kbukum/brokersec/negotiation"
	"github.com/kbukum/brokersec/security"
	"github.com/kbukum/brokersec/validation"
)

// Config configures one listener.
type Config struct {
	Name string `mapstructure:"name" validate:"required"`

	// Address is host:port. Port 0 binds an ephemeral port.
	Address string `mapstructure:"address" validate:"required,listen_address"`

	// MaxConnections caps concurrent connections. Zero means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0"`

	// NegotiationRate caps how many negotiations may start per second.
	// Connections over the rate are closed before the handshake. Zero
	// means unlimited.
	NegotiationRate  float64 `mapstructure:"negotiation_rate" validate:"gte=0"`
	NegotiationBurst int     `mapstructure:"negotiation_burst" validate:"gte=0"`

	// TLS secures the transport. Nil serves plaintext.
	TLS *security.TransportConfig `mapstructure:"tls"`

	// Mechanisms is the explicit allow-list. Empty advertises every
	// default-permitted mechanism the security domain can serve.
	Mechanisms []string `mapstructure:"mechanisms" validate:"unique,dive,sasl_mechanism"`

	Negotiation negotiation.Config `mapstructure:"negotiation"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.TLS != nil {
		c.TLS.ApplyDefaults()
	}
	c.Negotiation.ApplyDefaults()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return err
	}
	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return err
		}
	}
	return nil
}
