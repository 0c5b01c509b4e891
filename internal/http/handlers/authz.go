package handlers

import (
	applog "sonar/internal/log"
	"sonar/internal/services"

	"github.com/gofiber/fiber/v2"
)

// RequireSession rejects requests unless a user is signed in on this device.
func RequireSession(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, ok := auth.StoredUser()
		if !ok || !auth.IsAuthenticated() {
			applog.Security(c, "access.denied", nil)
			return fiber.NewError(fiber.StatusUnauthorized, "Sign in first")
		}
		c.Locals("user", u)
		c.Locals("user_id", u.ID)
		return c.Next()
	}
}
