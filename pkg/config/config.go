// Package config loads service settings from defaults, an optional YAML file and WORKTEMPLATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const EnvPrefix = "WORKTEMPLATE"

var (
	ErrDatabaseURLRequired = errors.New("database url is required")
	ErrUnknownEventBus     = errors.New("unknown event bus")
	ErrKafkaBrokers        = errors.New("kafka event bus needs at least one broker")
)

type Config struct {
	Port        int    `mapstructure:"port"`
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	EventBus struct {
		Provider     string   `mapstructure:"provider"`
		KafkaBrokers []string `mapstructure:"kafka_brokers"`
	} `mapstructure:"event_bus"`

	SLA struct {
		Schedule string `mapstructure:"schedule"`
		Batch    int    `mapstructure:"batch"`
		Disabled bool   `mapstructure:"disabled"`
	} `mapstructure:"sla"`

	OTel struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"otel"`
}

// New returns a viper instance with every known key defaulted and bound to
// its environment variable, e.g. sla.schedule to WORKTEMPLATE_SLA_SCHEDULE.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("port", 9091)
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("event_bus.provider", "gochannel")
	v.SetDefault("event_bus.kafka_brokers", []string{})
	v.SetDefault("sla.schedule", "* * * * *")
	v.SetDefault("sla.batch", 100)
	v.SetDefault("sla.disabled", false)
	v.SetDefault("otel.enabled", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads path when it is not empty and decodes the merged settings.
func Load(path string) (*Config, error) {
	v := New()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return Decode(v)
}

func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.EventBus.KafkaBrokers = splitBrokers(cfg.EventBus.KafkaBrokers)

	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrDatabaseURLRequired)
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}

	switch c.EventBus.Provider {
	case "gochannel":
	case "kafka":
		if len(c.EventBus.KafkaBrokers) == 0 {
			errs = append(errs, ErrKafkaBrokers)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownEventBus, c.EventBus.Provider))
	}

	if !c.SLA.Disabled {
		if _, err := cron.ParseStandard(c.SLA.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid sla schedule %q: %w", c.SLA.Schedule, err))
		}
	}

	return errors.Join(errs...)
}

// splitBrokers accepts both list values and a single comma separated value from the environment.
func splitBrokers(values []string) []string {
	brokers := make([]string, 0, len(values))

	for _, value := range values {
		for _, broker := range strings.Split(value, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				brokers = append(brokers, broker)
			}
		}
	}

	return brokers
}
