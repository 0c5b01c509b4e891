package handlers

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	applog "sonar/internal/log"
	"sonar/internal/services"
)

type Options struct {
	Auth    *services.AuthService
	Catalog *services.CatalogService

	// MediaDir is served under /media when set.
	MediaDir string

	// Per-IP request budgets. Zero picks the defaults.
	APIMax      int
	LoginMax    int
	LoginWindow time.Duration

	// AccessLog receives the fiber logger output; nil means stdout.
	AccessLog io.Writer
}

func NewApp(opts Options) *fiber.App {
	if opts.APIMax == 0 {
		opts.APIMax = 120
	}
	if opts.LoginMax == 0 {
		opts.LoginMax = 5
	}
	if opts.LoginWindow == 0 {
		opts.LoginWindow = 10 * time.Minute
	}
	if opts.AccessLog == nil {
		opts.AccessLog = os.Stdout
	}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	// Room for one product image plus its form fields.
	app.Server().MaxRequestBodySize = maxImageBytes + 1<<20

	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{Output: opts.AccessLog}))
	app.Use(helmet.New())
	app.Use(limiter.New(limiter.Config{
		Max:        opts.APIMax,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/media/")
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.api.hit", nil)
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded, retry soon")
		},
	}))
	app.Use(sameOrigin())
	app.Use(csrfGuard())

	if opts.MediaDir != "" {
		mountMedia(app, opts.MediaDir)
	}

	deps := NewDeps(opts.Auth, opts.Catalog)
	api := app.Group("/api/v1")

	auth := api.Group("/auth")
	auth.Get("/csrf", CSRFToken)
	auth.Post("/login", limiter.New(limiter.Config{
		Max:        opts.LoginMax,
		Expiration: opts.LoginWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|login"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return fiber.NewError(fiber.StatusTooManyRequests, "Too many attempts. Please try again later.")
		},
	}), deps.AuthHandler.Login)
	auth.Post("/logout", deps.AuthHandler.Logout)
	auth.Get("/me", deps.AuthHandler.Me)

	session := RequireSession(opts.Auth)
	api.Get("/categories", session, deps.CategoryHandler.List)
	api.Post("/categories", session, deps.CategoryHandler.Create)

	products := api.Group("/products", session)
	products.Get("/", deps.ProductHandler.List)
	products.Post("/", deps.ProductHandler.Create)
	products.Get("/:id", deps.ProductHandler.Detail)
	products.Patch("/:id", deps.ProductHandler.Update)
	products.Delete("/:id", deps.ProductHandler.Delete)
	products.Post("/:id/stock", deps.ProductHandler.Stock)

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Page not found")
	})
	return app
}

// mountMedia serves the local image bucket, refusing anything that could
// escape dir.
func mountMedia(app *fiber.App, dir string) {
	if !filepath.IsAbs(dir) {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
	}
	applog.Info(nil, "static.media", map[string]any{"dir": dir})
	app.Get("/media/*", func(c *fiber.Ctx) error {
		path := c.Params("*")
		rawLower := strings.ToLower(path)
		if strings.Contains(rawLower, "..") || strings.Contains(rawLower, "%2e") || strings.Contains(rawLower, "\x00") {
			applog.Security(c, "media.traversal.block", map[string]any{"path": path})
			return c.SendStatus(fiber.StatusNotFound)
		}
		clean := filepath.Clean(path)
		if clean == "." || strings.Contains(clean, "..") || filepath.IsAbs(clean) {
			applog.Security(c, "media.traversal.block", map[string]any{"path": path})
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.SendFile(filepath.Join(dir, clean), true)
	})
}
