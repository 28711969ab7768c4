package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowgate/pkg/audit"
	"github.com/dukex/flowgate/pkg/cmd"
	"github.com/dukex/flowgate/pkg/engine"
	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/log"
	"github.com/dukex/flowgate/pkg/trigger"
	"github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 10 * time.Second
)

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the engine, the trigger listeners and the REST API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL (file:///path or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the instance lock shared by several engines",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "directory-file",
				Usage:   "YAML file listing actors with their roles and groups",
				Sources: cli.EnvVars("DIRECTORY_FILE"),
			},
			&cli.StringFlag{
				Name:    "itsm-url",
				Usage:   "Base URL of the ITSM backend",
				Sources: cli.EnvVars("ITSM_URL"),
			},
			&cli.StringFlag{
				Name:    "itsm-token",
				Usage:   "Bearer token for the ITSM backend",
				Sources: cli.EnvVars("ITSM_TOKEN"),
			},
			&cli.DurationFlag{
				Name:    "schedule-sync",
				Usage:   "How often scheduled workflows are reloaded",
				Value:   trigger.DefaultSyncInterval,
				Sources: cli.EnvVars("SCHEDULE_SYNC_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return serve(ctx, command)
		},
	}
}

func serve(ctx context.Context, command *cli.Command) error {
	logger := log.WithModule("flowgate")

	logger.InfoContext(ctx, "Initializing flowgate")

	tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("otel"))
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	evaluator := expression.NewEvaluator()

	registry, err := cmd.NewRegistry(logger, command.String("itsm-url"), command.String("itsm-token"), evaluator)
	if err != nil {
		return fmt.Errorf("failed to register executors: %w", err)
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.Background()); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(logger, command.String("event-bus"), command.String("kafka-brokers"))
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	locker, closeLocker, err := cmd.NewLocker(ctx, logger, command.String("redis-url"))
	if err != nil {
		return fmt.Errorf("failed to create instance lock: %w", err)
	}

	defer func() {
		if err := closeLocker(); err != nil {
			logger.ErrorContext(ctx, "Failed to close instance lock", "error", err)
		}
	}()

	directory, err := cmd.NewDirectory(command.String("directory-file"))
	if err != nil {
		return err
	}

	e := engine.New(engine.Config{
		Logger:      logger,
		Persistence: persistence,
		Registry:    registry,
		Recorder:    audit.NewRecorder(logger, persistence.AuditRepository(), eventBus),
		Locker:      locker,
		Directory:   directory,
		Tracer:      tracer,
	})

	// executors stop with runCtx; Wait runs after stop
	defer e.Wait()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	err = e.Start(runCtx)
	if err != nil {
		return fmt.Errorf("failed to recover instances: %w", err)
	}

	listener := trigger.NewListener(logger, persistence.WorkflowRepository(), evaluator)
	consumer := trigger.NewConsumer(logger, listener, e)

	err = consumer.Start(runCtx, eventBus)
	if err != nil {
		return fmt.Errorf("failed to subscribe to domain events: %w", err)
	}

	scheduler := trigger.NewScheduler(logger, persistence.WorkflowRepository(), listener, e)

	go func() {
		if err := scheduler.Run(runCtx, command.Duration("schedule-sync")); err != nil {
			logger.ErrorContext(runCtx, "Scheduler stopped", "error", err)
		}
	}()

	api := NewAPI(logger, persistence, registry, e, listener, consumer)
	app := api.App()

	go func() {
		<-runCtx.Done()

		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Failed to shutdown API", "error", err)
		}
	}()

	logger.InfoContext(ctx, "Starting API", "port", command.Int("port"))

	err = api.Start(app, command.Int("port"))
	if err != nil {
		logger.ErrorContext(ctx, "API server stopped", "error", err)

		return err
	}

	return nil
}
