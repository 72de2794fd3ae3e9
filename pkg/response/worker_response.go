// Package response renders the API envelope used for errors and wrapped
// success payloads.
package response

import (
	"time"

	"mailmirror/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// =============================================================================
// Standard API Response
// =============================================================================

// Response is the standard API envelope.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	Timestamp string     `json:"timestamp"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// =============================================================================
// Response Builders
// =============================================================================

// OK returns a successful enveloped response.
func OK(c *fiber.Ctx, data any) error {
	return c.JSON(Response{
		Success:   true,
		Data:      data,
		RequestID: RequestID(c),
		Timestamp: now(),
	})
}

// Error returns an error response.
func Error(c *fiber.Ctx, status int, code, message string) error {
	return ErrorWithDetails(c, status, code, message, nil)
}

func ErrorWithDetails(c *fiber.Ctx, status int, code, message string, details map[string]any) error {
	return c.Status(status).JSON(Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
		RequestID: RequestID(c),
		Timestamp: now(),
	})
}

// AppError renders err as an AppError; anything else becomes a 500.
func AppError(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	return ErrorWithDetails(c, appErr.Status, appErr.Code, appErr.Message, appErr.Details)
}

// BadRequest returns a 400 bad request response.
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, apperr.CodeBadRequest, message)
}

// Unauthorized returns a 401 unauthorized response.
func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, apperr.CodeUnauthorized, message)
}

// NotFound returns a 404 not found response.
func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, apperr.CodeNotFound, message)
}

// CodeForStatus maps an HTTP status to an error code.
func CodeForStatus(status int) string {
	switch status {
	case 400:
		return apperr.CodeBadRequest
	case 401:
		return apperr.CodeUnauthorized
	case 403:
		return apperr.CodeForbidden
	case 404:
		return apperr.CodeNotFound
	case 409:
		return apperr.CodeConflict
	case 429:
		return "RATE_LIMITED"
	case 500:
		return apperr.CodeInternalError
	case 502, 503, 504:
		return "SERVICE_UNAVAILABLE"
	default:
		return "UNKNOWN_ERROR"
	}
}

// RequestID returns the id set by the request id middleware.
func RequestID(c *fiber.Ctx) string {
	id, _ := c.Locals("request_id").(string)
	return id
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
