// Package apperr defines the structured errors surfaced to API callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Auth errors
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeAuthExchangeFailed = "AUTH_EXCHANGE_FAILED"
	CodeNoCredential       = "NO_CREDENTIAL"

	// Validation errors
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeMissingField     = "MISSING_FIELD"

	// Resource errors
	CodeNotFound    = "NOT_FOUND"
	CodeConflict    = "CONFLICT"
	CodeRateLimited = "RATE_LIMITED"

	// External errors
	CodeDatabaseError = "DATABASE_ERROR"
	CodeProviderError = "PROVIDER_ERROR"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

// AuthExchange reports that the provider rejected an authorization code or
// withheld the refresh token.
func AuthExchange(err error) *AppError {
	return &AppError{
		Code:    CodeAuthExchangeFailed,
		Message: "authorization code exchange failed",
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

// NoCredential reports an account that never completed authorization.
func NoCredential(accountID string) *AppError {
	return &AppError{
		Code:    CodeNoCredential,
		Message: "no mail account connected",
		Status:  http.StatusNotFound,
		Details: map[string]any{"account_id": accountID},
	}
}

func BadRequest(message string) *AppError {
	return New(CodeBadRequest, message, http.StatusBadRequest)
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func Conflict(message string) *AppError {
	return New(CodeConflict, message, http.StatusConflict)
}

func RateLimited(retryAfterSeconds int) *AppError {
	return New(CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetail("retry_after", retryAfterSeconds)
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// ProviderFailure wraps an error returned by the remote mail API.
func ProviderFailure(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeProviderError,
		Message: fmt.Sprintf("mail provider error: %s", provider),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return New(CodeInternalError, message, http.StatusInternalServerError)
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return New(CodeConfigError, message, http.StatusInternalServerError)
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
