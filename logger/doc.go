// Package logger provides structured logging using zerolog.
//
// Components obtain a tagged logger by name and log with structured fields.
// Secret material (passwords, credentials, tokens) is never passed as a field.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("negotiation")
//	log.Info("mechanism selected", logger.Fields(logger.FieldMechanism, "PLAIN"))
package logger
