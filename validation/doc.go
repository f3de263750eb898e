// Package validation checks configuration and input structs.
//
// Struct tag validation reports fields by their mapstructure key so
// errors point at the offending line of the config file:
//
//	type Config struct {
//	    Address string `mapstructure:"address" validate:"required,listen_address"`
//	    Mechanisms []string `mapstructure:"mechanisms" validate:"unique,dive,sasl_mechanism"`
//	}
//	err := validation.Validate(cfg)
//
// Programmatic validation collects errors for rules tags cannot express:
//
//	v := validation.New()
//	v.Custom(c.ClientAuth != "require" || c.TruststorePath != "", "client_auth", "require needs a truststore")
//	err := v.Validate()
package validation
