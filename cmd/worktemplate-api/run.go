package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/worktemplate/pkg/cmd"
	"github.com/dukex/worktemplate/pkg/config"
	"github.com/dukex/worktemplate/pkg/otelhelper"
	"github.com/dukex/worktemplate/pkg/sla"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

// loadConfig reads the optional file then lets explicitly set flags override it.
func loadConfig(command *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return nil, err
	}

	if command.IsSet("port") {
		cfg.Port = command.Int("port")
	}

	if command.IsSet("database-url") {
		cfg.DatabaseURL = command.String("database-url")
	}

	if command.IsSet("event-bus") {
		cfg.EventBus.Provider = command.String("event-bus")
	}

	if command.IsSet("kafka-brokers") {
		cfg.EventBus.KafkaBrokers = command.StringSlice("kafka-brokers")
	}

	if command.IsSet("redis-url") {
		cfg.RedisURL = command.String("redis-url")
	}

	if command.IsSet("sla-check-schedule") {
		cfg.SLA.Schedule = command.String("sla-check-schedule")
	}

	if command.IsSet("otel-enabled") {
		cfg.OTel.Enabled = command.Bool("otel-enabled")
	}

	if command.IsSet("log-level") {
		cfg.Log.Level = command.String("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTel.Enabled {
		_, shutdown, err := otelhelper.NewTracer(ctx, "worktemplate-api")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	persistence, err := cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(cfg.EventBus.Provider, cfg.EventBus.KafkaBrokers, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	snapshots, cacheCloser, err := cmd.NewSnapshotCache(ctx, logger, cfg.RedisURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := cacheCloser.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close snapshot cache", "error", err)
		}
	}()

	api := NewAPI(logger, persistence, eventBus, snapshots)

	if !cfg.SLA.Disabled {
		monitor, err := sla.NewMonitor(cfg.SLA.Schedule, api.Instances(), logger)
		if err != nil {
			return err
		}

		monitor.WithBatch(cfg.SLA.Batch)

		if err := monitor.Start(ctx); err != nil {
			return err
		}

		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			if err := monitor.Stop(stopCtx); err != nil {
				logger.ErrorContext(ctx, "Failed to stop SLA monitor", "error", err)
			}
		}()
	}

	errs := make(chan error, 1)

	go func() {
		errs <- api.Start(cfg.Port)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		logger.InfoContext(ctx, "Shutting down gracefully...")

		err := api.Shutdown(shutdownTimeout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	}
}
