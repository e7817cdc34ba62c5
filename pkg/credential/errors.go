package credential

import (
	"errors"
	"fmt"
)

// Error codes returned by the verification and lifecycle paths. These are
// wire-level codes, not HTTP status codes.
const (
	// ErrCodeInvalidRequest indicates a malformed request body or field.
	ErrCodeInvalidRequest = "INVALID_REQUEST"

	// ErrCodeMissingInput indicates neither a credential id nor an inline
	// payload was supplied.
	ErrCodeMissingInput = "MISSING_INPUT"

	// ErrCodeNotFound indicates no credential exists for the given id.
	ErrCodeNotFound = "CREDENTIAL_NOT_FOUND"

	// ErrCodeRevoked indicates the credential's status is not active. The
	// error message carries the current status.
	ErrCodeRevoked = "CREDENTIAL_REVOKED"

	// ErrCodeExpired indicates now >= valid_until.
	ErrCodeExpired = "CREDENTIAL_EXPIRED"

	// ErrCodeNotYetValid indicates now < valid_from.
	ErrCodeNotYetValid = "CREDENTIAL_NOT_YET_VALID"

	// ErrCodeInvalidSignature indicates the Ed25519 check failed, including
	// malformed base64 in the signature or key. Always fails closed.
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"

	// ErrCodeIssuerNotFound indicates the issuer's public key could not be
	// resolved.
	ErrCodeIssuerNotFound = "ISSUER_NOT_FOUND"

	// ErrCodeLifecycleViolation indicates an operation illegal in the
	// credential's current state, e.g. renewing a revoked credential.
	ErrCodeLifecycleViolation = "LIFECYCLE_VIOLATION"

	// ErrCodeBatchLimitExceeded indicates a bulk operation over the cap.
	ErrCodeBatchLimitExceeded = "BATCH_LIMIT_EXCEEDED"

	// ErrCodeInternal indicates a dependency failure. Internals are logged
	// server-side, never exposed to the caller.
	ErrCodeInternal = "INTERNAL_ERROR"
)

// Error is a credential error with a stable code. On the wire it
// serializes as {code, message}; the cause stays server-side.
type Error struct {
	// Code is one of the error code constants above.
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Cause is the underlying error, if any. Never serialized.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError creates an Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates an Error wrapping an underlying cause.
func WrapError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidRequest     = NewError(ErrCodeInvalidRequest, "request is malformed")
	ErrMissingInput       = NewError(ErrCodeMissingInput, "credential_id or credential payload required")
	ErrNotFound           = NewError(ErrCodeNotFound, "credential not found")
	ErrRevoked            = NewError(ErrCodeRevoked, "credential is not active")
	ErrExpired            = NewError(ErrCodeExpired, "credential has expired")
	ErrNotYetValid        = NewError(ErrCodeNotYetValid, "credential is not yet valid")
	ErrInvalidSignature   = NewError(ErrCodeInvalidSignature, "signature verification failed")
	ErrIssuerNotFound     = NewError(ErrCodeIssuerNotFound, "issuer not found")
	ErrLifecycleViolation = NewError(ErrCodeLifecycleViolation, "operation not permitted in current state")
	ErrInternal           = NewError(ErrCodeInternal, "internal error")
)

// AsError extracts an *Error if err carries one.
func AsError(err error) (*Error, bool) {
	var credErr *Error
	if errors.As(err, &credErr) {
		return credErr, true
	}
	return nil, false
}

// CodeOf returns err's error code, or ErrCodeInternal when err carries none.
func CodeOf(err error) string {
	if credErr, ok := AsError(err); ok {
		return credErr.Code
	}
	return ErrCodeInternal
}
