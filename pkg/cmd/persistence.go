// Package cmd wires the backing services shared by the command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/dukex/worktemplate/pkg/persistence/file"
	"github.com/dukex/worktemplate/pkg/persistence/postgresql"
	"github.com/xo/dburl"
)

var ErrUnsupportedDatabase = errors.New("unsupported database")

// NewPersistence picks a backend from the URL scheme: file:// for a JSON
// directory, memory:// for a throwaway store, anything dburl resolves to the
// postgres driver for PostgreSQL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case databaseURL == "memory://" || databaseURL == "memory":
		logger.WarnContext(ctx, "Using in-memory persistence, data is lost on exit")

		return file.NewMemoryPersistence(), nil
	case strings.HasPrefix(databaseURL, "file://"):
		root := strings.TrimPrefix(databaseURL, "file://")
		logger.InfoContext(ctx, "Using file persistence", "root", root)

		p, err := file.NewPersistence(root)
		if err != nil {
			return nil, err
		}

		return p, nil
	}

	parsed, err := dburl.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse database url: %w", err)
	}

	if parsed.Driver != "postgres" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDatabase, parsed.Driver)
	}

	logger.InfoContext(ctx, "Using PostgreSQL persistence", "host", parsed.Host)

	p, err := postgresql.NewPersistence(ctx, logger, parsed.DSN)
	if err != nil {
		return nil, err
	}

	return p, nil
}
