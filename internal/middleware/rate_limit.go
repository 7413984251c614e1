package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-grader/internal/utils"
)

// RateLimit creates a per-user rate limiter. Requests from any of the exempt roles bypass it.
func RateLimit(identifier string, max int, window time.Duration, exemptRoles ...string) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	exempt := make(map[string]struct{}, len(exemptRoles))
	for _, role := range exemptRoles {
		exempt[normalizeRoleValue(role)] = struct{}{}
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Next: func(c *fiber.Ctx) bool {
			_, ok := exempt[normalizeRoleValue(c.Locals("user_role"))]
			return ok
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			userID := "0"
			if value := c.Locals("user_id"); value != nil {
				userID = fmt.Sprintf("%v", value)
			}
			if userID == "0" {
				userID = c.IP()
			}
			return fmt.Sprintf("%s:%s", identifier, userID)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.Fail(c, fiber.StatusTooManyRequests, "too many grading requests, slow down", nil)
		},
	})
}
