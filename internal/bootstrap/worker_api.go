package bootstrap

import (
	"strings"

	"mailmirror/adapter/in/http"
	"mailmirror/config"
	"mailmirror/infra/middleware"
	"mailmirror/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI builds the HTTP application over already constructed dependencies.
func NewAPI(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,

		// go-json: drop-in encoding/json replacement
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:          1 * 1024 * 1024,
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())              // 1. Panic recovery
	app.Use(middleware.RequestID())            // 2. Request ID
	app.Use(middleware.SecurityHeaders())      // 3. Security headers
	app.Use(middleware.PreventPathTraversal()) // 4. Path traversal protection
	app.Use(middleware.RequestLogger())        // 5. Request logging

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// AllowCredentials:true requires explicit origins (not "*")
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,Retry-After",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth required)
	checks := map[string]http.HealthChecker{"postgres": deps.DB}
	if deps.Redis != nil {
		checks["redis"] = http.RedisChecker{Client: deps.Redis}
	} else {
		checks["redis"] = nil
	}
	http.NewHealthHandler(checks).Register(app)

	// Per-IP limits apply before authentication, per-account limits after.
	api := app.Group("/api/v1", middleware.NewRateLimiter(middleware.PublicRateLimitConfig()).Handler())

	// OAuth callback (no auth required - Google redirects here)
	oauthHandler := http.NewOAuthHandler(deps.OAuthService)
	oauthHandler.RegisterPublic(api)

	protected := api.Group("",
		middleware.JWTAuth(cfg.JWTSecret),
		middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()).Handler(),
	)
	oauthHandler.Register(protected)
	http.NewEmailHandler(deps.MailService, deps.SyncCoordinator).Register(protected)

	logger.Info("API server initialized")
	return app
}
