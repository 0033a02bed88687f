package handlers

import (
	"loop-economy/middleware"
	"loop-economy/services"

	"github.com/gofiber/fiber/v2"
)

type Deps struct {
	Engine      *services.Engine
	Stream      *services.LedgerStream
	AuthClient  middleware.TokenValidator
	RateLimiter *middleware.UserRateLimiter
}

// SetupRoutes mounts every route group. The gateway forwards
// /api/v1/economy/s/user/... to /user/... and admin calls to /s/admin/...
func SetupRoutes(app *fiber.App, d Deps) {
	limit := func(c *fiber.Ctx) error { return c.Next() }
	if d.RateLimiter != nil {
		limit = d.RateLimiter.Handler()
	}

	// Registered ahead of the /user group: EventSource clients authenticate
	// with query params, not gateway identity headers.
	if d.Stream != nil && d.AuthClient != nil {
		app.Get("/user/ledger/stream", middleware.SSEAuthMiddleware(d.AuthClient), d.Stream.Handle)
	}

	app.Get("/catalog", listCatalog(d.Engine))

	user := app.Group("/user", middleware.UserContextMiddleware())
	setupProgressionRoutes(user, d.Engine, limit)
	setupGiftRoutes(user, d.Engine, limit)
	setupGroupGiftRoutes(user, d.Engine, limit)

	events := app.Group("/s/events", middleware.UserContextMiddleware(), middleware.RequireRole("service", "admin"))
	setupEventRoutes(events, d.Engine)

	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireRole("admin"))
	setupAdminRoutes(admin, d.Engine)
}
