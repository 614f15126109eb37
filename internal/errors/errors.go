// Package errors defines the service error taxonomy shared by the lending
// engine, the storage layer and the HTTP boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-distinguishable failure category.
type Code string

const (
	// CodeNotFound indicates a referenced user, book, category or loan is
	// absent. Never retried.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict indicates a business-rule rejection: already borrowed,
	// out of stock, already returned, duplicate username, retry exhausted.
	CodeConflict Code = "CONFLICT"

	// CodeTransientConflict indicates storage-level contention on the same
	// record. Retried internally by the lending engine, never surfaced to
	// callers directly.
	CodeTransientConflict Code = "TRANSIENT_CONFLICT"

	// CodeInvariant indicates a defensive internal check failed (for
	// example a stock counter that would go negative). Indicates a bug.
	CodeInvariant Code = "INVARIANT_VIOLATION"

	CodeBadRequest   Code = "BAD_REQUEST"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeInternal     Code = "INTERNAL"
)

// Well-known conflict reasons surfaced by the lending engine. Callers can
// match on these to render each rejection differently.
const (
	ReasonAlreadyBorrowed = "already borrowed"
	ReasonOutOfStock      = "out of stock"
	ReasonAlreadyReturned = "already returned"
	ReasonRetryExhausted  = "retry exhausted"
)

// ServiceError carries a failure category, a human-readable message and the
// HTTP status it maps to at the boundary.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value pair for diagnostics and API responses.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NotFound reports an absent entity, e.g. NotFound("book", id).
func NotFound(entity, id string) *ServiceError {
	return &ServiceError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]interface{}{"entity": entity, "id": id},
	}
}

// Conflict reports a business-rule rejection with a stable reason string.
func Conflict(reason string) *ServiceError {
	return &ServiceError{
		Code:       CodeConflict,
		Message:    reason,
		HTTPStatus: http.StatusConflict,
	}
}

// TransientConflict wraps a storage-level contention failure. The lending
// engine retries these before escalating to Conflict(ReasonRetryExhausted).
func TransientConflict(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeTransientConflict,
		Message:    "concurrent modification detected",
		HTTPStatus: http.StatusConflict,
		Err:        err,
	}
}

// Invariant reports a defensive internal check failure.
func Invariant(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeInvariant,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// BadRequest reports invalid caller input.
func BadRequest(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unauthorized reports a missing or unusable credential.
func Unauthorized(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// InvalidToken reports a credential that failed validation.
func InvalidToken(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeUnauthorized,
		Message:    "invalid token",
		HTTPStatus: http.StatusUnauthorized,
		Err:        err,
	}
}

// Forbidden reports a caller lacking the required role or ownership.
func Forbidden(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// RateLimited reports a caller exceeding its request budget.
func RateLimited(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimited,
		Message:    message,
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// Internal reports an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// GetServiceError returns the *ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code Code) bool {
	svcErr := GetServiceError(err)
	return svcErr != nil && svcErr.Code == code
}

// IsNotFound reports whether err is a NotFound failure.
func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }

// IsConflict reports whether err is a business-rule Conflict.
func IsConflict(err error) bool { return IsCode(err, CodeConflict) }

// IsTransientConflict reports whether err is retryable storage contention.
func IsTransientConflict(err error) bool { return IsCode(err, CodeTransientConflict) }

// IsConflictReason reports whether err is a Conflict with the given reason.
func IsConflictReason(err error, reason string) bool {
	svcErr := GetServiceError(err)
	return svcErr != nil && svcErr.Code == CodeConflict && svcErr.Message == reason
}
