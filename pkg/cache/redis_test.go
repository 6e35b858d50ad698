package cache_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/worktemplate/pkg/cache"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (*cache.Redis, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisCache, err := cache.NewRedis(ctx, slog.Default(), fmt.Sprintf("redis://%s:%s/0", host, port.Port()), time.Minute)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = redisCache.Close()
	})

	return redisCache, ctx
}

func TestRedis_RoundTrip(t *testing.T) {
	redisCache, ctx := setupRedis(t)

	missing, err := redisCache.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, missing)

	snapshot := &models.VersionSnapshot{
		TemplateID:  "tpl-1",
		VersionID:   "ver-1",
		TenantID:    "acme",
		Version:     "1.0.0",
		Order:       []string{"a", "b"},
		Steps:       []*models.WorkTemplateStep{},
		PublishedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	require.NoError(t, redisCache.Set(ctx, snapshot))

	cached, err := redisCache.Get(ctx, "ver-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, snapshot.Order, cached.Order)
	assert.True(t, snapshot.PublishedAt.Equal(cached.PublishedAt))
}

func TestNewRedis_InvalidURL(t *testing.T) {
	_, err := cache.NewRedis(context.Background(), slog.Default(), "not-a-url", time.Minute)
	require.Error(t, err)
}

func TestNoop(t *testing.T) {
	var snapshots cache.SnapshotCache = cache.Noop{}

	require.NoError(t, snapshots.Set(context.Background(), &models.VersionSnapshot{VersionID: "v"}))

	cached, err := snapshots.Get(context.Background(), "v")
	require.NoError(t, err)
	assert.Nil(t, cached)
}
