package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config holds file- and environment-driven settings for the order engine.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Venues    VenuesConfig    `mapstructure:"venues"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the SQLite driver: "sqlite" (pure Go) or "sqlite3" (cgo).
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// QueueConfig bounds admission: Concurrency executing orders at once and at
// most RateLimit admissions within any RateWindow.
type QueueConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	RateLimit   int           `mapstructure:"rate_limit"`
	RateWindow  time.Duration `mapstructure:"rate_window"`
}

type ExecutionConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// VenuesConfig lists providers in priority order; quote ties go to the earlier one.
type VenuesConfig struct {
	Providers    []string `mapstructure:"providers"`
	ProfilesPath string   `mapstructure:"profiles_path"`
}

type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// legacyEnv maps config keys to the environment names used by earlier deployments.
var legacyEnv = map[string][]string{
	"server.port":           {"SERVER_PORT", "PORT"},
	"database.path":         {"DATABASE_PATH", "DB_PATH"},
	"queue.rate_limit":      {"QUEUE_RATE_LIMIT", "MAX_ORDERS_PER_MINUTE"},
	"execution.max_retries": {"EXECUTION_MAX_RETRIES", "MAX_RETRIES"},
	"app.environment":       {"APP_ENVIRONMENT", "APP_ENV"},
}

// Load reads an optional YAML file at path plus environment variables
// (optionally via .env) into Config and validates the result.
func Load(path string) (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file %q not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("server.port", "3000")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/orders.db")

	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.rate_limit", 100)
	v.SetDefault("queue.rate_window", "1m")

	v.SetDefault("execution.max_retries", 3)
	v.SetDefault("execution.retry_delay", "1s")

	v.SetDefault("venues.providers", []string{"raydium", "meteora"})
	v.SetDefault("venues.profiles_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if strings.TrimSpace(c.Server.Port) == "" {
		err = multierr.Append(err, errors.New("server.port must not be empty"))
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		err = multierr.Append(err, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		err = multierr.Append(err, errors.New("database.path must not be empty"))
	}
	if c.Queue.Concurrency <= 0 {
		err = multierr.Append(err, errors.New("queue.concurrency must be > 0"))
	}
	if c.Queue.RateLimit <= 0 {
		err = multierr.Append(err, errors.New("queue.rate_limit must be > 0"))
	}
	if c.Queue.RateWindow <= 0 {
		err = multierr.Append(err, errors.New("queue.rate_window must be > 0"))
	}
	if c.Execution.MaxRetries <= 0 {
		err = multierr.Append(err, errors.New("execution.max_retries must be > 0"))
	}
	if c.Execution.RetryDelay < 0 {
		err = multierr.Append(err, errors.New("execution.retry_delay must not be negative"))
	}
	if len(c.Venues.Providers) == 0 {
		err = multierr.Append(err, errors.New("venues.providers must list at least one provider"))
	}
	return err
}

// IsProduction reports whether the app runs with production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}
