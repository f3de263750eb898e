package bootstrap

import (
	"github.com/kbukum/brokersec/config"
)

// Config is the constraint for application configuration types. Any
// struct embedding config.ServiceConfig satisfies it via promoted methods
// once it also defines ApplyDefaults and Validate, or inherits them.
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
