package middleware

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"mailmirror/pkg/apperr"
	"mailmirror/pkg/logger"
	"mailmirror/pkg/metrics"
	"mailmirror/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ErrorHandler is a centralized error handler for Fiber
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID := response.RequestID(c)

		var appErr *apperr.AppError
		var fiberErr *fiber.Error

		switch {
		case errors.As(err, &appErr):
			log := logger.WithField("request_id", requestID).
				WithField("error_code", appErr.Code).
				WithError(appErr.Err)
			if appErr.Status >= 500 {
				log.Error("Internal error: %s", appErr.Message)
			} else {
				log.Warn("Client error: %s", appErr.Message)
			}
			return response.ErrorWithDetails(c, appErr.Status, appErr.Code, appErr.Message, appErr.Details)

		case errors.As(err, &fiberErr):
			return response.Error(c, fiberErr.Code, response.CodeForStatus(fiberErr.Code), fiberErr.Message)

		default:
			logger.WithField("request_id", requestID).
				WithError(err).
				Error("Unexpected error: %s", err.Error())
			return response.Error(c, fiber.StatusInternalServerError, apperr.CodeInternalError, "An unexpected error occurred")
		}
	}
}

// RequestID middleware adds a unique request ID to each request
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	}
}

// RequestLogger logs each request and records its latency by route pattern.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()
		if err != nil {
			// Render now so the logged status matches what the client receives.
			if handlerErr := c.App().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		duration := time.Since(start)
		status := c.Response().StatusCode()

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		metrics.RecordHTTPRequestDuration(c.Method(), route, strconv.Itoa(status), duration)

		log := logger.WithFields(map[string]any{
			"request_id":  response.RequestID(c),
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": float64(duration.Microseconds()) / 1000.0,
			"ip":          c.IP(),
		})
		if accountID, ok := c.Locals(LocalAccountID).(string); ok && accountID != "" {
			log = log.WithField("account_id", accountID)
		}

		switch {
		case status >= 500:
			log.Error("Request failed: %s %s -> %d", c.Method(), c.Path(), status)
		case status >= 400:
			log.Warn("Request error: %s %s -> %d", c.Method(), c.Path(), status)
		default:
			log.Debug("Request completed: %s %s -> %d", c.Method(), c.Path(), status)
		}
		return nil
	}
}

// Recover middleware recovers from panics
func Recover() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]any{
					"request_id": response.RequestID(c),
					"panic":      fmt.Sprintf("%v", r),
					"path":       c.Path(),
					"method":     c.Method(),
					"stack":      string(debug.Stack()),
				}).Error("Panic recovered")

				err = response.Error(c, fiber.StatusInternalServerError, apperr.CodeInternalError, "An unexpected error occurred")
			}
		}()
		return c.Next()
	}
}
