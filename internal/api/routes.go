package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

type AppConfig struct {
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	BodyLimit          int
	CORSAllowedOrigins string
	// RateLimitMax requests per RateLimitWindow per client IP; zero disables.
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// NewApp builds the Fiber app with middleware and routes.
func NewApp(cfg AppConfig, h *Handler, logger zerolog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          ErrorHandler(logger),
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(RequestLogger(logger))

	allowOrigins := cfg.CORSAllowedOrigins
	if allowOrigins == "" {
		allowOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowCredentials: false, // bearer tokens, not cookies
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
	}))

	if cfg.RateLimitMax > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimitMax,
			Expiration: cfg.RateLimitWindow,
		}))
	}

	SetupRoutes(app, h)
	return app
}

func SetupRoutes(app *fiber.App, h *Handler) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Use(h.ResolveIdentity)

	app.Get("/", h.Root)

	app.Post("/proxy", h.Proxy)

	app.Get("/history", h.ListHistory)
	app.Get("/history/:id", h.GetHistory)

	app.Post("/collections", h.CreateCollection)
	app.Get("/collections", h.ListCollections)
	app.Post("/collection-items", h.AddCollectionItem)
}
