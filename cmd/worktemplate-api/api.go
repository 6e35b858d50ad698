// Package main provides the worktemplate API server.
package main

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/worktemplate/pkg/cache"
	"github.com/dukex/worktemplate/pkg/eventbus"
	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/dukex/worktemplate/pkg/services"
	"github.com/dukex/worktemplate/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	services    web.Services
	validate    *validator.Validate
	app         *fiber.App
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	snapshots cache.SnapshotCache,
) *API {
	opts := []services.Option{
		services.WithLogger(logger),
		services.WithPublisher(publisher),
		services.WithSnapshotCache(snapshots),
	}

	return &API{
		logger:      logger,
		persistence: persistence,
		services: web.Services{
			Templates:    services.NewTemplates(persistence, opts...),
			Instances:    services.NewInstances(persistence, opts...),
			FieldValues:  services.NewFieldValues(persistence, opts...),
			Approvals:    services.NewApprovals(persistence, opts...),
			Deliverables: services.NewDeliverables(persistence, opts...),
		},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Instances exposes the instance engine to the SLA monitor.
func (a *API) Instances() *services.Instances {
	return a.services.Instances
}

func (a *API) App() *fiber.App {
	if a.app != nil {
		return a.app
	}

	handlers := web.NewAPIHandlers(a.services, a.validate, a.persistence)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("worktemplate API")
	})

	handlers.Register(app)

	a.app = app

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}

func (a *API) Shutdown(timeout time.Duration) error {
	if a.app == nil {
		return nil
	}

	return a.app.ShutdownWithTimeout(timeout)
}
