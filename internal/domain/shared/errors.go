package shared

import "errors"

// Error codes shared by every bounded context. HTTP handlers map these to
// status codes, so they are part of the public API.
const (
	CodeValidation             = "VALIDATION_FAILED"
	CodeInvalidAmount          = "INVALID_AMOUNT"
	CodeInvalidState           = "INVALID_STATE"
	CodeNotFound               = "NOT_FOUND"
	CodeAlreadyExists          = "ALREADY_EXISTS"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeSignatureMismatch      = "SIGNATURE_MISMATCH"
	CodeGatewayError           = "GATEWAY_ERROR"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target is a DomainError with the same code, so that
// errors.Is(err, ErrNotFound) matches any not-found error.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// ErrorCode extracts the DomainError code from err, or "" if err is not a
// domain error.
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError(CodeNotFound, "Resource not found")
	ErrAlreadyExists       = NewDomainError(CodeAlreadyExists, "Resource already exists")
	ErrInvalidInput        = NewDomainError(CodeValidation, "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError(CodeConcurrentModification, "Resource was modified by another process")
	ErrInvalidState        = NewDomainError(CodeInvalidState, "Operation not allowed in current state")
	ErrSignatureMismatch   = NewDomainError(CodeSignatureMismatch, "Signature verification failed")
	ErrGatewayFailure      = NewDomainError(CodeGatewayError, "Payment gateway request failed")
)
