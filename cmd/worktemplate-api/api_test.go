package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/worktemplate/pkg/cache"
	"github.com/dukex/worktemplate/pkg/config"
	"github.com/dukex/worktemplate/pkg/events"
	"github.com/dukex/worktemplate/pkg/mocks"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence/file"
	"github.com/dukex/worktemplate/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v3"
)

func setupTestApp(t *testing.T) (*fiber.App, *mocks.EventRecorder) {
	t.Helper()

	recorder := &mocks.EventRecorder{}
	api := NewAPI(slog.Default(), file.NewMemoryPersistence(), recorder, cache.Noop{})

	return api.App(), recorder
}

func send(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, content
}

func TestAPI_RootEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := send(t, app, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "worktemplate API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	app, _ := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		resp, _ := send(t, app, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestAPI_PublishesEventsAfterCommit(t *testing.T) {
	app, recorder := setupTestApp(t)

	resp, body := send(t, app, http.MethodPost, "/templates", services.CreateTemplateRequest{TenantID: "acme", Code: "t", Name: "T"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var template models.WorkTemplate
	require.NoError(t, json.Unmarshal(body, &template))

	resp, body = send(t, app, http.MethodPost, "/templates/"+template.ID+"/versions", services.CreateVersionRequest{Version: "1.0.0"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var version models.WorkTemplateVersion
	require.NoError(t, json.Unmarshal(body, &version))

	resp, body = send(t, app, http.MethodPost, "/versions/"+version.ID+"/steps", services.StepInput{
		StepKey: "only", Name: "Only", Type: models.StepTypeTask, StepOrder: 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = send(t, app, http.MethodPost, "/versions/"+version.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, 1, recorder.Count(events.TemplateVersionPublishedEvent))

	resp, body = send(t, app, http.MethodPost, "/versions/"+version.ID+"/instances", services.InstantiateRequest{ProjectID: "p"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Equal(t, 1, recorder.Count(events.InstanceCreatedEvent))
	assert.Equal(t, 1, recorder.Count(events.StepReadyEvent))
}

func TestLoadConfig_FlagsOverrideDefaults(t *testing.T) {
	var cfg *config.Config

	command := &cli.Command{
		Name:  "worktemplate-api",
		Flags: flags(),
		Action: func(_ context.Context, command *cli.Command) error {
			var err error
			cfg, err = loadConfig(command)

			return err
		},
	}

	err := command.Run(context.Background(), []string{
		"worktemplate-api",
		"--database-url", "memory://",
		"--port", "8181",
		"--event-bus", "kafka",
		"--kafka-brokers", "broker-1:9092",
		"--sla-check-schedule", "*/10 * * * *",
	})
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Port)
	assert.Equal(t, "memory://", cfg.DatabaseURL)
	assert.Equal(t, "kafka", cfg.EventBus.Provider)
	assert.Equal(t, []string{"broker-1:9092"}, cfg.EventBus.KafkaBrokers)
	assert.Equal(t, "*/10 * * * *", cfg.SLA.Schedule)
}

func TestLoadConfig_RequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("WORKTEMPLATE_DATABASE_URL", "")

	command := &cli.Command{
		Name:  "worktemplate-api",
		Flags: flags(),
		Action: func(_ context.Context, command *cli.Command) error {
			_, err := loadConfig(command)

			return err
		},
	}

	err := command.Run(context.Background(), []string{"worktemplate-api"})
	require.ErrorIs(t, err, config.ErrDatabaseURLRequired)
}
