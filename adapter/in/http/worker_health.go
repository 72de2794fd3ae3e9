package http

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type HealthChecker interface {
	Ping(ctx context.Context) error
}

// RedisChecker adapts a redis client to HealthChecker.
type RedisChecker struct {
	Client redis.UniversalClient
}

func (r RedisChecker) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

type HealthHandler struct {
	checks map[string]HealthChecker
}

// NewHealthHandler creates a handler; nil checkers are reported as
// "not configured" and do not fail readiness.
func NewHealthHandler(checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) Register(app fiber.Router) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	allHealthy := true
	for _, name := range names {
		checker := h.checks[name]
		if checker == nil {
			checks[name] = "not configured"
			continue
		}
		if err := checker.Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks[name] = "healthy"
		}
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
