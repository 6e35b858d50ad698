package cmd

import (
	"context"
	"io"
	"log/slog"

	"github.com/dukex/worktemplate/pkg/cache"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewSnapshotCache returns a Redis cache when redisURL is set and a no-op cache otherwise.
func NewSnapshotCache(ctx context.Context, logger *slog.Logger, redisURL string) (cache.SnapshotCache, io.Closer, error) {
	if redisURL == "" {
		return cache.Noop{}, nopCloser{}, nil
	}

	redisCache, err := cache.NewRedis(ctx, logger, redisURL, cache.DefaultTTL)
	if err != nil {
		return nil, nil, err
	}

	return redisCache, redisCache, nil
}
