package errors

import (
	"fmt"
)

// rejectedMessage is shared by every authentication failure so a peer cannot
// tell an unknown identity apart from a wrong credential.
const rejectedMessage = "Authentication failed."

// AppError is the unified error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message. Never contains secret material.
	Message string `json:"message"`
	// Fatal indicates the error must abort listener startup.
	Fatal bool `json:"fatal"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic fatal detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Fatal:   IsFatalCode(code),
	}
}

// --- Configuration-time errors ---

// NoProviderFound creates an error for a required capability with no installed provider.
func NoProviderFound(capability string) *AppError {
	return &AppError{
		Code: ErrCodeNoProviderFound, Message: fmt.Sprintf("No provider installed for capability %s.", capability),
		Fatal: true, Details: map[string]any{"capability": capability},
	}
}

// ContextBuildFailed creates an error for a transport-security context that could not be built.
// The fingerprint identifies the configuration without exposing its secrets.
func ContextBuildFailed(fingerprint string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeContextBuildFailed, Message: "Unable to build transport-security context.",
		Fatal: true, Details: map[string]any{"fingerprint": fingerprint}, Cause: cause,
	}
}

// UnknownMechanism creates an error for a mechanism name with no discovered factory.
func UnknownMechanism(name string) *AppError {
	return &AppError{
		Code: ErrCodeUnknownMechanism, Message: fmt.Sprintf("Unknown authentication mechanism %s.", name),
		Fatal: true, Details: map[string]any{"mechanism": name},
	}
}

// --- Per-connection errors ---

// MechanismNotPermitted creates an error for a peer selecting a mechanism outside the advertised set.
func MechanismNotPermitted(name string) *AppError {
	return &AppError{
		Code: ErrCodeMechanismNotPermitted, Message: fmt.Sprintf("Mechanism %s is not permitted.", name),
		Details: map[string]any{"mechanism": name},
	}
}

// AuthenticationRejected creates an error for a failed authentication.
// The message is identical for every cause.
func AuthenticationRejected(cause error) *AppError {
	return &AppError{
		Code: ErrCodeAuthenticationRejected, Message: rejectedMessage, Cause: cause,
	}
}

// NegotiationAborted creates an error for a peer that disconnected or timed out.
func NegotiationAborted(cause error) *AppError {
	return &AppError{
		Code: ErrCodeNegotiationAborted, Message: "Negotiation aborted.", Cause: cause,
	}
}

// --- Generic errors ---

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason), Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message}
}

// Internal creates a new AppError for an internal error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.", Cause: cause,
	}
}
