// Package main loads YAML work template definitions into a worktemplate database.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/worktemplate/pkg/cmd"
	"github.com/dukex/worktemplate/pkg/log"
	"github.com/dukex/worktemplate/pkg/services"
	"github.com/dukex/worktemplate/pkg/templatefile"
	cli "github.com/urfave/cli/v3"
)

var errNoFiles = errors.New("at least one definition file is required")

func main() {
	logger := log.WithModule("import")

	command := newCommand(logger)

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("worktemplate-import failed", "error", err)
		os.Exit(1)
	}
}

func newCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "worktemplate-import",
		Usage:     "Create template versions from YAML definitions",
		ArgsUsage: "file.yaml...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL (file:///path, postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "tenant",
				Usage:    "Tenant owning the imported templates",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "actor",
				Usage: "User recorded as creator and publisher",
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish each version after its steps are added",
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

			files := command.Args().Slice()
			if len(files) == 0 {
				return errNoFiles
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			opts := templatefile.ApplyOptions{
				TenantID: command.String("tenant"),
				Publish:  command.Bool("publish"),
			}

			if actor := command.String("actor"); actor != "" {
				opts.Actor = &actor
			}

			return importFiles(ctx, logger, services.NewTemplates(persistence, services.WithLogger(logger)), files, opts)
		},
	}
}

// importFiles stops at the first failing definition. Earlier definitions stay imported.
func importFiles(ctx context.Context, logger *slog.Logger, templates *services.Templates, files []string, opts templatefile.ApplyOptions) error {
	for _, path := range files {
		definitions, err := templatefile.LoadFile(path)
		if err != nil {
			return err
		}

		for _, def := range definitions {
			result, err := templatefile.Apply(ctx, templates, def, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			logger.InfoContext(ctx, "Imported template version",
				"file", path,
				"code", result.Template.Code,
				"version", result.Version.Version,
				"created", result.Created,
				"published", result.Version.PublishedAt != nil,
			)
		}
	}

	return nil
}
