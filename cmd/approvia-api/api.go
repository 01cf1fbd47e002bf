// Package main provides the Approvia API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/approvia/approvia/pkg/config"
	"github.com/approvia/approvia/pkg/directory"
	"github.com/approvia/approvia/pkg/engine"
	"github.com/approvia/approvia/pkg/eventbus"
	"github.com/approvia/approvia/pkg/persistence"
	"github.com/approvia/approvia/pkg/web"
)

type API struct {
	logger   *slog.Logger
	store    persistence.Persistence
	chains   config.ChainStore
	resolver directory.Resolver
	eventBus eventbus.EventBus
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	chains config.ChainStore,
	resolver directory.Resolver,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:   logger,
		store:    store,
		chains:   chains,
		resolver: resolver,
		eventBus: eventBus,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	eng := engine.New(a.chains, a.store, a.resolver, a.eventBus, a.logger)
	handlers := web.NewAPIHandlers(eng, a.chains, a.store, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Approvia API")
	})

	r := app.Group("/requests")
	r.Get("/", handlers.ListRequests)
	r.Post("/", handlers.CreateRequest)
	r.Get("/pending", handlers.GetPending)
	r.Get("/:id", handlers.GetRequest)
	r.Patch("/:id/data", handlers.UpdateRequestData)
	r.Post("/:id/submit", handlers.SubmitRequest)
	r.Post("/:id/actions", handlers.ActOnRequest)
	r.Get("/:id/progress", handlers.GetProgress)
	r.Get("/:id/chain", handlers.GetRequestChain)
	r.Get("/:id/history", handlers.GetHistory)

	ch := app.Group("/chains")
	ch.Post("/", handlers.CreateChain)
	ch.Get("/:id", handlers.GetChain)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
