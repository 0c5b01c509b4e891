package handlers

import (
	"sonar/internal/log"
	"sonar/internal/services"
	"sonar/internal/validate"

	"github.com/gofiber/fiber/v2"
)

type AuthHandler struct {
	Auth *services.AuthService
}

type loginForm struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var in loginForm
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "login body")
	}
	email, ok := validate.Email(in.Email)
	if !ok {
		log.Security(c, "auth.login.fail", map[string]any{"email": in.Email, "reason": "bad_format"})
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid email or password")
	}
	if !validate.Password(in.Password) {
		log.Security(c, "auth.login.fail", map[string]any{"email": email, "reason": "bad_password_format"})
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid email or password")
	}
	u, err := h.Auth.SignIn(c.UserContext(), email, in.Password)
	if err != nil {
		return err
	}
	c.Locals("user_id", u.ID)
	return c.JSON(u)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.Auth.SignOut(c.UserContext()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Me asks the backend who the stored session belongs to.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	u, err := h.Auth.CurrentUser(c.UserContext())
	if err != nil {
		return err
	}
	if u == nil {
		return fiber.NewError(fiber.StatusUnauthorized, "Sign in first")
	}
	return c.JSON(u)
}
