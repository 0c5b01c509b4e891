package handlers

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"

	applog "sonar/internal/log"
)

const csrfKey = "csrf"

func safeMethod(m string) bool {
	switch m {
	case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions, fiber.MethodTrace:
		return true
	}
	return false
}

// sameOrigin turns away writes a browser marks as coming from another site.
// Clients that send neither header (curl, scripts) pass on to the token check.
func sameOrigin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if safeMethod(c.Method()) {
			return c.Next()
		}
		switch site := c.Get("Sec-Fetch-Site"); site {
		case "", "same-origin", "none":
		default:
			applog.Security(c, "csrf.origin.block", map[string]any{"sec_fetch_site": site})
			return fiber.NewError(fiber.StatusForbidden, "Cross-site requests are not allowed")
		}
		if origin := c.Get(fiber.HeaderOrigin); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || !strings.EqualFold(u.Host, c.Hostname()) {
				applog.Security(c, "csrf.origin.block", map[string]any{"origin": origin})
				return fiber.NewError(fiber.StatusForbidden, "Cross-site requests are not allowed")
			}
		}
		return c.Next()
	}
}

// csrfGuard is a double-submit token check: writes must echo the csrf_
// cookie in the X-Csrf-Token header. GET /api/v1/auth/csrf hands the token out.
func csrfGuard() fiber.Handler {
	return csrf.New(csrf.Config{
		KeyLookup:      "header:" + csrf.HeaderName,
		CookieName:     "csrf_",
		CookieSameSite: "Strict",
		CookieHTTPOnly: true,
		ContextKey:     csrfKey,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			applog.Security(c, "csrf.fail", map[string]any{"reason": err.Error()})
			return fiber.NewError(fiber.StatusForbidden, "Security check failed. Please refresh and try again.")
		},
	})
}

// CSRFToken returns the token the current csrf_ cookie carries.
func CSRFToken(c *fiber.Ctx) error {
	tok, _ := c.Locals(csrfKey).(string)
	return c.JSON(fiber.Map{"csrf": tok})
}
