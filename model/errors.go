package model

import (
	"errors"
	"fmt"
	"strings"
)

// Standard error codes.
const (
	ErrBadRequest          = "BAD_REQUEST"
	ErrUnauthorized        = "UNAUTHORIZED"
	ErrForbidden           = "FORBIDDEN"
	ErrNotFound            = "NOT_FOUND"
	ErrConflict            = "CONFLICT"
	ErrValidationError     = "VALIDATION_ERROR"
	ErrOperationNotAllowed = "OPERATION_NOT_SUPPORTED"
	ErrInternalError       = "INTERNAL_ERROR"
	ErrCanceled            = "CANCELED"
)

// ErrorEnvelope is the standard error response envelope returned by the
// service host. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewOperationNotSupportedError returns an OPERATION_NOT_SUPPORTED error.
func NewOperationNotSupportedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrOperationNotAllowed, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// ValidationError is returned by a domain operation to reject an entity.
// The reconciler records its results on the entry instead of failing the
// whole submit.
type ValidationError struct {
	Results []ValidationResult
}

// NewEntityValidationError returns a ValidationError with one result.
func NewEntityValidationError(message string, members ...string) *ValidationError {
	return &ValidationError{Results: []ValidationResult{{Message: message, Members: members}}}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Results))
	for i, r := range e.Results {
		msgs[i] = r.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// ConflictError is returned by a domain operation, or raised by a conflict
// detector, when the stored entity no longer matches the client's original.
type ConflictError struct {
	Members     []string
	StoreEntity any
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return "concurrency conflict on " + strings.Join(e.Members, ", ")
}

// ErrDeleteConflict reports that the target of an update or delete no longer
// exists.
var ErrDeleteConflict = errors.New("entity no longer exists")

// FatalError wraps an unrecoverable condition. It is never converted into
// an entry error; it aborts the whole submit.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err, or a panic value, is fatal.
func IsFatal(v any) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	var fe *FatalError
	return errors.As(err, &fe)
}
