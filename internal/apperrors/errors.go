// Package apperrors defines the error taxonomy shared by the StudyHall services.
package apperrors

import (
	"errors"
	"fmt"
)

// Error kinds. Every ServiceError wraps exactly one of these so callers can branch with errors.Is.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrForbidden   = errors.New("forbidden")
	ErrValidation  = errors.New("validation failed")
	ErrUnavailable = errors.New("service unavailable")
	ErrUpstream    = errors.New("upstream failure")
)

// ServiceError carries a stable machine code, a user-facing message and the error kind.
type ServiceError struct {
	code    string
	message string
	kind    error
	err     error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *ServiceError) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if e.kind != nil {
		unwrapped = append(unwrapped, e.kind)
	}
	if e.err != nil {
		unwrapped = append(unwrapped, e.err)
	}
	return unwrapped
}

// Code returns the machine-readable code, formatted as <operation>.<reason>.
func (e *ServiceError) Code() string {
	return e.code
}

// Message returns the message safe to show to API clients.
func (e *ServiceError) Message() string {
	if e.message != "" {
		return e.message
	}
	if e.kind != nil {
		return e.kind.Error()
	}
	return "internal error"
}

// Kind returns the taxonomy sentinel, or nil for internal failures.
func (e *ServiceError) Kind() error {
	return e.kind
}

// New builds a ServiceError. A nil kind marks an internal failure.
func New(operation, reason string, kind error, message string, cause error) error {
	return &ServiceError{
		code:    fmt.Sprintf("%s.%s", operation, reason),
		message: message,
		kind:    kind,
		err:     cause,
	}
}

// Internal builds a ServiceError for unexpected failures such as database errors.
func Internal(operation, reason string, cause error) error {
	return New(operation, reason, nil, "", cause)
}

// CodeOf extracts the code of the first ServiceError in the chain.
func CodeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
