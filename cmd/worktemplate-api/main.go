package main

import (
	"context"
	"os"

	"github.com/dukex/worktemplate/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "worktemplate-api",
		Usage:                 "Serve work templates, instances, approvals and deliverables",
		EnableShellCompletion: true,
		Flags:                 flags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}

			log.SetupWithFormat(cfg.Log.Level, cfg.Log.Format, os.Stderr)
			logger = log.WithModule("api")

			logger.InfoContext(ctx, "Initializing worktemplate API", "port", cfg.Port, "event_bus", cfg.EventBus.Provider)

			return run(ctx, logger, cfg)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("worktemplate-api failed", "error", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Optional YAML configuration file",
			Sources: cli.EnvVars("WORKTEMPLATE_CONFIG"),
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL (memory://, file:///path, postgres://...)",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers for the kafka event bus",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the published snapshot cache, disabled when empty",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "sla-check-schedule",
			Usage:   "Cron schedule of the overdue step sweep",
			Value:   "* * * * *",
			Sources: cli.EnvVars("SLA_CHECK_SCHEDULE"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}
