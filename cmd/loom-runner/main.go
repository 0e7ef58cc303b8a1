// Package main provides the loom runner: it pops run requests off the Redis
// queue and executes workflow drafts, publishing lifecycle events on the
// shared bus.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/loomhq/loom/pkg/cmd"
	"github.com/loomhq/loom/pkg/execution"
	"github.com/loomhq/loom/pkg/log"
	"github.com/loomhq/loom/pkg/otelhelper"
	"github.com/loomhq/loom/pkg/receivers/runqueue"
)

func main() {
	logger := log.WithModule("runner")

	command := &cli.Command{
		Name:                  "loom-runner",
		Usage:                 "Execute queued workflow runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis connection URL for the run-request queue",
				Required: true,
				Sources:  cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Run-request queue name",
				Value:   runqueue.DefaultQueue,
				Sources: cli.EnvVars("RUN_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (memory, kafka)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Loom runner")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "loom-runner", logger)

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			tracer, err := otelhelper.NewTracer(ctx, "loom-runner")
			if err != nil {
				logger.ErrorContext(ctx, "Failed to initialize tracer", "error", err)

				return err
			}

			starter := execution.NewStarter(eventBus, persistence.Executions(), execution.PassthroughExecutor{}, logger).
				WithTracer(tracer)

			receiver, err := runqueue.NewReceiver(ctx, command.String("redis-url"), command.String("queue"), logger)
			if err != nil {
				return err
			}

			err = receiver.Start(ctx, func(ctx context.Context, req runqueue.RunRequest) error {
				draft, _, err := persistence.Drafts().Load(ctx, req.WorkflowID)
				if err != nil {
					return err
				}

				_, err = starter.Start(ctx, execution.StartRequest{
					ExecutionID: req.ExecutionID,
					WorkflowID:  req.WorkflowID,
					Type:        req.Type,
					TriggerData: req.TriggerData,
					Draft:       draft,
				})

				return err
			})
			if err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-stop:
			case <-ctx.Done():
			}

			logger.InfoContext(ctx, "Shutting down Loom runner")

			return receiver.Stop(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
