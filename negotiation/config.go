package negotiation

import (
	"time"

	"github.com/kbukum/brokersec/validation"
)

// Config bounds one negotiation.
type Config struct {
	// MaxRounds is the number of mechanism steps a session may run. A
	// mechanism still challenging after the last one is rejected.
	MaxRounds int `mapstructure:"max_rounds" validate:"gte=1,lte=64"`
	// Timeout aborts the whole negotiation. Zero disables it.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.MaxRounds == 0 {
		c.MaxRounds = 8
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validation.Validate(c)
}
