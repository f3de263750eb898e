// Package config loads daemon configuration with Viper from a YAML file,
// an optional .env file and environment variables.
//
// # Usage
//
//	cfg, err := config.Load[DaemonConfig]("brokersecd", config.WithEnvPrefix("BROKERSEC"))
//
// Environment variables override file values. With the BROKERSEC prefix,
// BROKERSEC_ADMIN_PORT sets admin.port and BROKERSEC_LOGGING_LEVEL sets
// logging.level.
package config
