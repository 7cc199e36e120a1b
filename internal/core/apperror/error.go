// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All ledger errors returned to callers use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal            = "INTERNAL_ERROR"
	CodeDatabase            = "DATABASE_ERROR"
	CodeSequenceUnavailable = "SEQUENCE_UNAVAILABLE"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Business rule violations (422)
	CodeBusinessRule              = "BUSINESS_RULE_VIOLATION"
	CodeInsufficientStock         = "INSUFFICIENT_STOCK"
	CodeInvalidTransition         = "INVALID_TRANSITION"
	CodePartialReservationFailure = "PARTIAL_RESERVATION_FAILURE"
	CodeConcurrentModification    = "CONCURRENT_MODIFICATION"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict         = "CONFLICT"
	CodeAlreadyReversed  = "ALREADY_REVERSED"
	CodeAlreadyCancelled = "ALREADY_CANCELLED"
	CodeAlreadyReserved  = "ALREADY_RESERVED"
)

// AppError is the standard error type of the ledger.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (quantities, line results, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewBusinessRule creates a business rule violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewInsufficientStock creates a stock shortage error
func NewInsufficientStock(itemID string, requested, available float64) *AppError {
	return &AppError{
		Code:       CodeInsufficientStock,
		Message:    "Insufficient stock",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"item_id":   itemID,
			"requested": requested,
			"available": available,
		},
	}
}

// NewSequenceUnavailable is returned when a counter could not be advanced within the retry budget.
func NewSequenceUnavailable(tenantID, documentType string, attempts int) *AppError {
	return &AppError{
		Code:       CodeSequenceUnavailable,
		Message:    "Document number could not be allocated",
		HTTPStatus: http.StatusServiceUnavailable,
		Details: map[string]any{
			"tenant_id":     tenantID,
			"document_type": documentType,
			"attempts":      attempts,
		},
	}
}

// NewInvalidTransition creates a state machine violation error (422)
func NewInvalidTransition(entity, from, to string) *AppError {
	return &AppError{
		Code:       CodeInvalidTransition,
		Message:    fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"entity": entity, "from": from, "to": to},
	}
}

// NewPartialReservationFailure reports that only some lines of an owner were processed.
func NewPartialReservationFailure(ownerID string, succeeded, failed any) *AppError {
	return &AppError{
		Code:       CodePartialReservationFailure,
		Message:    "Some reservation lines could not be processed",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"owner_id":  ownerID,
			"succeeded": succeeded,
			"failed":    failed,
		},
	}
}

// NewAlreadyReversed is returned when a storno is requested for a storno document.
func NewAlreadyReversed(invoiceID any) *AppError {
	return &AppError{
		Code:       CodeAlreadyReversed,
		Message:    "Invoice is itself a storno document",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"invoice_id": invoiceID},
	}
}

// NewAlreadyCancelled is returned when a storno is requested for a cancelled invoice.
func NewAlreadyCancelled(invoiceID any) *AppError {
	return &AppError{
		Code:       CodeAlreadyCancelled,
		Message:    "Invoice is already cancelled",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"invoice_id": invoiceID},
	}
}

// NewAlreadyReserved is returned on a second reservation attempt for the same owner.
func NewAlreadyReserved(ownerID any) *AppError {
	return &AppError{
		Code:       CodeAlreadyReserved,
		Message:    "Lines of this owner were already reserved",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"owner_id": ownerID},
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified concurrently. Please refresh and try again.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool { return HasCode(err, CodeNotFound) }

// IsInsufficientStock checks if error is CodeInsufficientStock
func IsInsufficientStock(err error) bool { return HasCode(err, CodeInsufficientStock) }

// IsSequenceUnavailable checks if error is CodeSequenceUnavailable
func IsSequenceUnavailable(err error) bool { return HasCode(err, CodeSequenceUnavailable) }

// IsInvalidTransition checks if error is CodeInvalidTransition
func IsInvalidTransition(err error) bool { return HasCode(err, CodeInvalidTransition) }

// IsPartialReservationFailure checks if error is CodePartialReservationFailure
func IsPartialReservationFailure(err error) bool {
	return HasCode(err, CodePartialReservationFailure)
}

// IsConcurrentModification checks if error is CodeConcurrentModification
func IsConcurrentModification(err error) bool {
	return HasCode(err, CodeConcurrentModification)
}
