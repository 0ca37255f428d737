package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/viper"

	"github.com/artpar/stagehand/internal/core/lifecycle"
	"github.com/artpar/stagehand/internal/shell/healthcheck"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Log          LogConfig           `mapstructure:"log"`
	Docker       DockerConfig        `mapstructure:"docker"`
	Store        StoreConfig         `mapstructure:"store"`
	Environment  EnvironmentConfig   `mapstructure:"environment"`
	Policy       lifecycle.Policy    `mapstructure:"policy"`
	HealthChecks []HealthCheckConfig `mapstructure:"health_checks"`
	Watch        WatchConfig         `mapstructure:"watch"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console, text or json
}

// DockerConfig holds Docker configuration.
type DockerConfig struct {
	Host   string `mapstructure:"host"`   // Engine API host for port lookups
	Binary string `mapstructure:"binary"` // compose binary, "docker" runs `docker compose`
}

// StoreConfig holds environment registry configuration.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// EnvironmentConfig describes the environment `up` creates.
type EnvironmentConfig struct {
	Name         string         `mapstructure:"name"`
	Mode         string         `mapstructure:"mode"`        // local, copy or template
	ProjectDir   string         `mapstructure:"project_dir"` // project or template tree
	ComposeFiles []string       `mapstructure:"compose_files"`
	BaseDir      string         `mapstructure:"base_dir"` // parent of copied and rendered trees
	Values       map[string]any `mapstructure:"values"`   // template values
}

// HealthCheckConfig is a health check as written in the config file. A check
// without a URL probes Path on the host port published for Port.
type HealthCheckConfig struct {
	healthcheck.Check `mapstructure:",squash"`

	Port uint32 `mapstructure:"port"`
	Path string `mapstructure:"path"`
}

// WatchConfig holds defaults for `logs`.
type WatchConfig struct {
	Tail        int  `mapstructure:"tail"`
	Timestamps  bool `mapstructure:"timestamps"`
	NoLogPrefix bool `mapstructure:"no_log_prefix"`
}

// Checks converts the configured checks, filling in retry defaults.
func (c *Config) Checks() ([]healthcheck.Check, error) {
	checks := make([]healthcheck.Check, 0, len(c.HealthChecks))
	for i, hc := range c.HealthChecks {
		check := hc.Check
		if check.Service == "" {
			return nil, fmt.Errorf("health_checks[%d]: service is required", i)
		}
		if check.URL == "" {
			if hc.Port == 0 {
				return nil, fmt.Errorf("health_checks[%d]: url or port is required", i)
			}
			check.URLFunc = healthcheck.PortURL(check.Service, hc.Port, hc.Path)
		}
		if check.Name == "" {
			check.Name = check.Service
		}
		if check.MaxRetries <= 0 {
			check.MaxRetries = healthcheck.DefaultMaxRetries
		}
		if check.Timeout <= 0 {
			check.Timeout = healthcheck.DefaultTimeout
		}
		checks = append(checks, check)
	}
	return checks, nil
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.binary", "docker")
	v.SetDefault("store.dsn", "./.stagehand/stagehand.db")
	v.SetDefault("environment.name", "default")
	v.SetDefault("environment.mode", "local")
	v.SetDefault("environment.project_dir", ".")
	v.SetDefault("environment.compose_files", []string{})
	v.SetDefault("environment.base_dir", "./.stagehand")
	v.SetDefault("watch.tail", 20)
	v.SetDefault("watch.timestamps", false)
	v.SetDefault("watch.no_log_prefix", false)

	// Policy defaults: the full testing cycle. `up` runs the entry half and
	// `down` the exit half.
	policy := lifecycle.TestingPolicy()
	v.SetDefault("policy.initialize_on_enter", policy.InitializeOnEnter)
	v.SetDefault("policy.inspect_on_enter", policy.InspectOnEnter)
	v.SetDefault("policy.pull_on_enter", policy.PullOnEnter)
	v.SetDefault("policy.up_on_enter", policy.UpOnEnter)
	v.SetDefault("policy.health_on_enter", policy.HealthOnEnter)
	v.SetDefault("policy.stop_on_exit", policy.StopOnExit)
	v.SetDefault("policy.down_on_exit", policy.DownOnExit)
	v.SetDefault("policy.tear_down_on_exit", policy.TearDownOnExit)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("STAGEHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to w so that command output on stdout stays parseable.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}

	return slog.New(handler)
}
