package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"

	"github.com/ManuelReschke/CreatorGate/app/controllers"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/env"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/middleware"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/session"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	if session.GetSessionStore() == nil {
		session.NewSessionStore()
	}

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware(h.deps.Repos.User))

	h.registerWebhookRoutes(app)
	h.registerAdminRoutes(app)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}

// Provider webhooks authenticate by signature, not by session.
func (h HttpRouter) registerWebhookRoutes(app *fiber.App) {
	billingController := controllers.NewBillingController(h.deps.Billing, h.deps.WebhookSecret)

	webhooks := app.Group("/webhooks")
	webhooks.Post("/stripe", billingController.HandleStripeWebhook)
}

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminController := controllers.NewAdminController(h.deps.Repos, h.deps.Billing, h.deps.Counters, h.deps.Jobs)

	csrfConf := csrf.Config{
		KeyLookup:      "header:X-Csrf-Token",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   !env.IsDev(),
	}

	adminGroup := app.Group("/admin/api", cors.New(), middleware.RequireAdmin, csrf.New(csrfConf))
	adminGroup.Put("/users/:id/vip", adminController.HandleSetUserVip)
	adminGroup.Post("/users/:id/api-key", adminController.HandleIssueAPIKey)
	adminGroup.Delete("/users/:id/api-key", adminController.HandleRevokeAPIKey)
	adminGroup.Get("/entitlements/stats", adminController.HandleEntitlementStats)
	adminGroup.Post("/webhooks/:id/replay", adminController.HandleReplayWebhook)
	adminGroup.Get("/jobs/:id", adminController.HandleGetJob)
}
