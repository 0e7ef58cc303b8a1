// Package main provides the loom API server: the HTTP surface over edit
// sessions, presence, and execution streams.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomhq/loom/pkg/eventbus"
	"github.com/loomhq/loom/pkg/execution"
	"github.com/loomhq/loom/pkg/persistence"
	"github.com/loomhq/loom/pkg/presence"
	"github.com/loomhq/loom/pkg/session"
	"github.com/loomhq/loom/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	tracer      trace.Tracer
	validate    *validator.Validate
}

func NewAPI(logger *slog.Logger, persist persistence.Persistence, eventBus eventbus.EventBus, tracer trace.Tracer) *API {
	return &API{
		logger:      logger,
		persistence: persist,
		eventBus:    eventBus,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App(ctx context.Context) (*fiber.App, *session.Supervisor) {
	supervisor := session.NewSupervisor(ctx, a.eventBus, a.persistence.Drafts(), a.logger)

	presenceRegistry := presence.NewRegistry(a.eventBus, a.logger)
	presenceRegistry.OnDisconnect(func(ctx context.Context, workflowID, userID string) {
		authority, ok := supervisor.Session(workflowID)
		if !ok {
			return
		}

		if err := authority.ReleaseUserLocks(ctx, userID); err != nil {
			a.logger.WarnContext(ctx, "Failed to release locks on disconnect",
				"workflow_id", workflowID, "user_id", userID, "error", err)
		}
	})

	starter := execution.NewStarter(a.eventBus, a.persistence.Executions(), execution.PassthroughExecutor{}, a.logger).
		WithTracer(a.tracer)
	bridge := execution.NewBridge(a.eventBus, a.persistence.Executions(), a.logger)

	handlers := web.NewHandlers(
		supervisor,
		presenceRegistry,
		starter,
		bridge,
		a.persistence,
		a.eventBus,
		a.validate,
		a.logger,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Loom API")
	})

	handlers.Register(app)

	return app, supervisor
}

func (a *API) Start(ctx context.Context, port int) error {
	app, supervisor := a.App(ctx)

	defer func() {
		if err := supervisor.Close(ctx); err != nil {
			a.logger.ErrorContext(ctx, "Failed to close session supervisor", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
