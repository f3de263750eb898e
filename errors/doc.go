// Package errors provides the error taxonomy of the security negotiation layer.
// Every error carries a machine-readable code and a flag telling the caller
// whether it is fatal to listener startup or scoped to a single connection.
package errors
