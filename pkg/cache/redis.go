package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "worktemplate:snapshot:"
	DefaultTTL = 24 * time.Hour
)

// Redis caches snapshots as JSON strings.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis connects to the redis:// URL and pings it.
func NewRedis(ctx context.Context, logger *slog.Logger, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return NewRedisWithClient(client, logger, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, logger *slog.Logger, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Redis{client: client, ttl: ttl, logger: logger}
}

func (r *Redis) Get(ctx context.Context, versionID string) (*models.VersionSnapshot, error) {
	payload, err := r.client.Get(ctx, keyPrefix+versionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot models.VersionSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		r.logger.WarnContext(ctx, "dropping undecodable snapshot", "version_id", versionID, "error", err)
		r.client.Del(ctx, keyPrefix+versionID)

		return nil, nil
	}

	return &snapshot, nil
}

func (r *Redis) Set(ctx context.Context, snapshot *models.VersionSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return r.client.Set(ctx, keyPrefix+snapshot.VersionID, payload, r.ttl).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
