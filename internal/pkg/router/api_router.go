package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/CreatorGate/app/controllers"
	apiv1 "github.com/ManuelReschke/CreatorGate/internal/api/v1"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1",
		middleware.APIKeyAuthMiddleware(h.deps.Repos.User),
		middleware.LoadEntitlements(h.deps.Store, h.deps.Config, middleware.WithDecisionRecorder(h.deps.Counters)),
	)
	apiServer := apiv1.NewAPIServer(controllers.NewEntitlementController(h.deps.Store))
	apiv1.RegisterHandlers(v1, apiServer)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
