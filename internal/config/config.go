// Package config loads service configuration from an optional YAML file,
// a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/t77yq/scrape-scheduler/internal/model"
	"github.com/t77yq/scrape-scheduler/internal/scheduler"
)

const envPrefix = "SCRAPER"

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type FetchAPIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ScrapeEndpoint string        `mapstructure:"scrape_endpoint"`
	Token          string        `mapstructure:"token"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type SchedulerConfig struct {
	SchedulesDir    string        `mapstructure:"schedules_dir"`
	Timezone        string        `mapstructure:"timezone"`
	Overlap         string        `mapstructure:"overlap"`
	Watch           bool          `mapstructure:"watch"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type HistoryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	DBPath    string        `mapstructure:"db_path"`
	Retention time.Duration `mapstructure:"retention"`
}

type RunLogConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Dir           string        `mapstructure:"dir"`
	MaxSize       int64         `mapstructure:"max_size"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type NATSConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
	ReconnectWait    time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	Commands         bool          `mapstructure:"commands"`
	AlertsFromStream bool          `mapstructure:"alerts_from_stream"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Config is the full service configuration
type Config struct {
	App       AppConfig         `mapstructure:"app"`
	FetchAPI  FetchAPIConfig    `mapstructure:"fetch_api"`
	Scheduler SchedulerConfig   `mapstructure:"scheduler"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	History   HistoryConfig     `mapstructure:"history"`
	RunLog    RunLogConfig      `mapstructure:"run_log"`
	NATS      NATSConfig        `mapstructure:"nats"`
	API       APIConfig         `mapstructure:"api"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	Alerts    []model.AlertRule `mapstructure:"alerts"`
}

// Load reads configuration. An empty path looks for config.yaml in ./config
// and the working directory; a missing file is not an error unless path was
// given explicitly. A .env file in the working directory is loaded first.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindLegacyEnvVars(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.FetchAPI.BaseURL) == "" {
		return errors.New("fetch_api.base_url is required")
	}
	if _, err := scheduler.ParseOverlapPolicy(c.Scheduler.Overlap); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("%w: %q", scheduler.ErrUnknownTimezone, c.Scheduler.Timezone)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	if c.History.Enabled && c.History.DBPath == "" {
		return errors.New("history.db_path is required when history is enabled")
	}
	return nil
}

// IsProduction reports whether app.env is production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}

// NewLogger builds the process logger
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Logging.Development && !c.IsProduction() {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Named(c.App.Name), nil
}
