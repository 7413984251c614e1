package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/utils"
)

// Auth role constants used by the authorization helpers.
const (
	AuthRoleAny     = "any"
	AuthRoleStaff   = "staff"
	AuthRoleTeacher = "teacher"
	AuthRoleAdmin   = "admin"
	AuthRoleStudent = "student"
)

// AuthOptions configures WithAuth and RequireAuth.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// RequireAuth is the middleware form of WithAuth. Grading spends credits, so every grading
// route needs a resolved user id.
func RequireAuth(opts AuthOptions) fiber.Handler {
	return WithAuth(func(c *fiber.Ctx) error { return c.Next() }, opts)
}

// WithAuth wraps a handler with authentication and role guards.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}

	requireUser := opts.RequireUser
	if !requireUser && role != AuthRoleAny {
		requireUser = true
	}

	return func(c *fiber.Ctx) error {
		if requireUser && !hasUser(c) {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}

		if !roleAllowed(role, normalizeRoleValue(c.Locals("user_role"))) {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
		}

		return handler(c)
	}
}

func hasUser(c *fiber.Ctx) bool {
	id, ok := c.Locals("user_id").(uint)
	return ok && id != 0
}

func roleAllowed(required, current string) bool {
	switch required {
	case AuthRoleAny:
		return true
	case AuthRoleStaff, AuthRoleAdmin:
		// teachers share admin access to credits and audit logs
		return current == AuthRoleAdmin || current == AuthRoleTeacher
	default:
		return current == required
	}
}
