package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CreatorGate/app/repository"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/billing"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/entitlements"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/metrics/counter"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// EntitlementStore is a subscription store whose cached snapshots can be
// dropped on demand.
type EntitlementStore interface {
	entitlements.SubscriptionStore
	billing.Invalidator
}

// Dependencies are built once in main and shared by all routers.
type Dependencies struct {
	Repos         *repository.Repositories
	Store         EntitlementStore
	Billing       *billing.Service
	Counters      *counter.Recorder
	Jobs          *jobqueue.Queue
	Config        entitlements.Config
	WebhookSecret string
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// HttpRouter goes first: it mounts the UserContext middleware the API
	// routes rely on.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
