package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by the storefront layers.
var (
	ErrNotFound             = errors.New("resource not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrInternal             = errors.New("internal error")
	ErrConflict             = errors.New("conflict")
	ErrStaleCart            = errors.New("stale cart")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrFulfillmentRetryable = errors.New("fulfillment retryable")
)

// AppError is a structured error carrying an HTTP status and a stable code
// that clients can switch on.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// Internal creates a 500 error. The wrapped cause is never shown to clients.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Conflict creates a 409 error for optimistic concurrency failures.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// StaleCart creates a 409 error telling the client its view of the cart is
// out of date and must be refreshed before retrying.
func StaleCart(index int) *AppError {
	return &AppError{
		Code:    "STALE_CART",
		Message: fmt.Sprintf("cart entry %d no longer exists, refresh the cart and try again", index),
		Status:  http.StatusConflict,
		Err:     ErrStaleCart,
	}
}

// ProviderUnavailable creates a 503 error for a third-party provider that
// failed, timed out, or is behind an open circuit breaker.
func ProviderUnavailable(provider string, err error) *AppError {
	return &AppError{
		Code:    "PROVIDER_UNAVAILABLE",
		Message: fmt.Sprintf("%s is temporarily unavailable", provider),
		Status:  http.StatusServiceUnavailable,
		Err:     errors.Join(ErrProviderUnavailable, err),
	}
}

// FulfillmentRetryable creates a 503 error for a paid order whose fulfillment
// step failed in a way that can be retried later.
func FulfillmentRetryable(message string, err error) *AppError {
	return &AppError{
		Code:    "FULFILLMENT_RETRYABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     errors.Join(ErrFulfillmentRetryable, err),
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStaleCart):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrFulfillmentRetryable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
