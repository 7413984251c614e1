package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradingHandler       *handler.GradingHandler
	CreditHandler        *handler.CreditHandler
	AdminActivityHandler *handler.AdminActivityHandler
	JWTMiddleware        fiber.Handler
	RateLimiter          fiber.Handler
	HealthProbes         []handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	authenticated := middleware.RequireAuth(middleware.AuthOptions{RequireUser: true})

	if deps.GradingHandler != nil {
		handlers := []fiber.Handler{jwtMiddleware, authenticated}
		if deps.RateLimiter != nil {
			handlers = append(handlers, deps.RateLimiter)
		}
		grading := api.Group("/grading", handlers...)
		deps.GradingHandler.Register(grading)
	}

	if deps.CreditHandler != nil {
		credits := api.Group("/credits", jwtMiddleware, authenticated)
		deps.CreditHandler.Register(credits)
	}

	admin := api.Group("/admin", jwtMiddleware, middleware.RequireRole(middleware.AuthRoleAdmin, middleware.AuthRoleTeacher))
	if deps.CreditHandler != nil {
		deps.CreditHandler.RegisterAdmin(admin.Group("/credits"))
	}
	if deps.AdminActivityHandler != nil {
		deps.AdminActivityHandler.Register(admin.Group("/activity"))
	}
}
