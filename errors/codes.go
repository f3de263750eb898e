package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Configuration-time errors. These abort listener startup.
const (
	// ErrCodeNoProviderFound indicates discovery yielded no implementation of a required capability.
	ErrCodeNoProviderFound ErrorCode = "NO_PROVIDER_FOUND"
	// ErrCodeContextBuildFailed indicates a transport-security context could not be built.
	ErrCodeContextBuildFailed ErrorCode = "CONTEXT_BUILD_FAILED"
	// ErrCodeUnknownMechanism indicates a mechanism name has no discovered factory.
	ErrCodeUnknownMechanism ErrorCode = "UNKNOWN_MECHANISM"
)

// Per-connection errors. These close only the offending connection.
const (
	// ErrCodeMechanismNotPermitted indicates the peer selected a mechanism that was not advertised.
	ErrCodeMechanismNotPermitted ErrorCode = "MECHANISM_NOT_PERMITTED"
	// ErrCodeAuthenticationRejected indicates credential verification or mechanism rules failed.
	ErrCodeAuthenticationRejected ErrorCode = "AUTHENTICATION_REJECTED"
	// ErrCodeNegotiationAborted indicates the peer went away or timed out mid-negotiation.
	ErrCodeNegotiationAborted ErrorCode = "NEGOTIATION_ABORTED"
)

// Generic errors
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var fatalCodes = map[ErrorCode]bool{
	ErrCodeNoProviderFound:    true,
	ErrCodeContextBuildFailed: true,
	ErrCodeUnknownMechanism:   true,
}

// IsFatalCode returns true if the code aborts listener startup.
func IsFatalCode(code ErrorCode) bool {
	return fatalCodes[code]
}
