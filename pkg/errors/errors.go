package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound             = errors.New("resource not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrBadRequest           = errors.New("bad request")
	ErrConflict             = errors.New("resource conflict")
	ErrInternal             = errors.New("internal server error")
	ErrValidation           = errors.New("validation error")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrInvalidSourceState   = errors.New("invalid source state")
	ErrNoSuitableBatch      = errors.New("no suitable batch")
	ErrConflictRetryable    = errors.New("concurrent update conflict")
	ErrStoreUnavailable     = errors.New("store unavailable")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// InsufficientQuantity signals that an operation would drive a quantity
// negative. Requested and available amounts are carried in Details so the
// caller can decide whether to retry against a different batch.
func InsufficientQuantity(requested, available string) *AppError {
	return &AppError{
		Err:        ErrInsufficientQuantity,
		Code:       "INSUFFICIENT_QUANTITY",
		Message:    fmt.Sprintf("requested %s exceeds available %s", requested, available),
		StatusCode: http.StatusConflict,
		Details: map[string]string{
			"requested": requested,
			"available": available,
		},
	}
}

// InvalidSourceState signals a transformation attempted against a batch
// whose status does not allow consumption (EMPTY, DAMAGED, QUARANTINE).
func InvalidSourceState(batchID, status string) *AppError {
	return &AppError{
		Err:        ErrInvalidSourceState,
		Code:       "INVALID_SOURCE_STATE",
		Message:    fmt.Sprintf("batch %s cannot be used as a source in status %s", batchID, status),
		StatusCode: http.StatusConflict,
		Details: map[string]string{
			"batch_id": batchID,
			"status":   status,
		},
	}
}

// NoSuitableBatch signals that selection found no candidate covering the
// required quantity. This is an explicit outcome, never a partial match.
func NoSuitableBatch(productSKU, required string) *AppError {
	return &AppError{
		Err:        ErrNoSuitableBatch,
		Code:       "NO_SUITABLE_BATCH",
		Message:    fmt.Sprintf("no batch of %s can cover %s", productSKU, required),
		StatusCode: http.StatusNotFound,
		Details: map[string]string{
			"product_sku": productSKU,
			"required":    required,
		},
	}
}

// ConflictRetryable signals a lost concurrent-update race. The caller should
// re-select and retry against fresh state.
func ConflictRetryable(message string) *AppError {
	return &AppError{
		Err:        ErrConflictRetryable,
		Code:       "CONFLICT_RETRY",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// StoreUnavailable signals a transaction or connection failure. The failed
// operation was fully rolled back.
func StoreUnavailable(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %v", ErrStoreUnavailable, err),
		Code:       "STORE_UNAVAILABLE",
		Message:    "storage backend unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
