package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/CreatorGate/app/repository"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/billing"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/cache"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/database"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/entitlements"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/env"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/router"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/subscriptions"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/creatorgate to project root
		"../../../", // Fallback
	}

	// Find the correct base path
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}

	if basePath == "" {
		panic("Could not find project root directory")
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "CreatorGate",
		BodyLimit: 1 * 1024 * 1024, // webhook payloads are small
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	metricsUser := env.GetEnv("ADMIN_METRICS_USER", "")
	metricsPass := env.GetEnv("ADMIN_METRICS_PASSWORD", "")
	if metricsUser != "" && metricsPass != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				metricsUser: metricsPass,
			},
		}), monitor.New(monitor.Config{Title: "CreatorGate Metrics"}))
	}

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ENTITLEMENTS
	store := subscriptions.NewCachedStore(subscriptions.NewGormStore(db), cache.GetClient(), subscriptions.CacheTTLFromEnv())
	billingService := billing.NewServiceFromDB(db).WithInvalidator(store)

	// BACKGROUND JOBS
	jobs := jobqueue.NewQueue(cache.GetClient(), env.GetInt("JOB_WORKERS", 2))
	jobs.Handle(jobqueue.JobTypeReplayWebhook, jobqueue.ReplayWebhookHandler(billingService))
	jobs.Start()
	app.Hooks().OnShutdown(func() error {
		jobs.Stop()
		return nil
	})

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Repos:         repository.GetGlobalRepositories(),
		Store:         store,
		Billing:       billingService,
		Counters:      counter.NewRecorder(cache.GetClient()),
		Jobs:          jobs,
		Config:        entitlements.ConfigFromEnv(),
		WebhookSecret: billing.StripeWebhookSecretFromEnv(),
	})

	return app
}
