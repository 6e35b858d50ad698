package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/worktemplate/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 9091, cfg.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "gochannel", cfg.EventBus.Provider)
	assert.Equal(t, "* * * * *", cfg.SLA.Schedule)
	assert.Equal(t, 100, cfg.SLA.Batch)
	assert.False(t, cfg.OTel.Enabled)
	assert.Empty(t, cfg.EventBus.KafkaBrokers)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worktemplate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 8080
database_url: file:///var/lib/worktemplate
event_bus:
  provider: kafka
  kafka_brokers: [broker-1:9092]
sla:
  schedule: "*/5 * * * *"
`), 0o600))

	t.Setenv("WORKTEMPLATE_PORT", "9000")
	t.Setenv("WORKTEMPLATE_SLA_BATCH", "25")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port, "environment wins over the file")
	assert.Equal(t, "file:///var/lib/worktemplate", cfg.DatabaseURL)
	assert.Equal(t, "kafka", cfg.EventBus.Provider)
	assert.Equal(t, []string{"broker-1:9092"}, cfg.EventBus.KafkaBrokers)
	assert.Equal(t, "*/5 * * * *", cfg.SLA.Schedule)
	assert.Equal(t, 25, cfg.SLA.Batch)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg, err := config.Load("")
		require.NoError(t, err)

		cfg.DatabaseURL = "memory://"

		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(cfg *config.Config)
		expectErr error
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "no database", mutate: func(cfg *config.Config) { cfg.DatabaseURL = "" }, expectErr: config.ErrDatabaseURLRequired},
		{name: "unknown bus", mutate: func(cfg *config.Config) { cfg.EventBus.Provider = "nats" }, expectErr: config.ErrUnknownEventBus},
		{name: "kafka without brokers", mutate: func(cfg *config.Config) { cfg.EventBus.Provider = "kafka" }, expectErr: config.ErrKafkaBrokers},
		{name: "bad schedule", mutate: func(cfg *config.Config) { cfg.SLA.Schedule = "whenever" }},
		{name: "bad schedule while disabled", mutate: func(cfg *config.Config) {
			cfg.SLA.Schedule = "whenever"
			cfg.SLA.Disabled = true
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()

			switch {
			case tt.expectErr != nil:
				require.ErrorIs(t, err, tt.expectErr)
			case tt.name == "bad schedule":
				require.Error(t, err)
			default:
				require.NoError(t, err)
			}
		})
	}
}
