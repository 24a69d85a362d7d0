// Package config handles configuration loading for conductor.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for conductor.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Messages  MessagesConfig  `mapstructure:"messages"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Store     StoreConfig     `mapstructure:"store"`
}

// SchedulerConfig holds dispatch policy settings.
type SchedulerConfig struct {
	// MaxConcurrency bounds the number of simultaneously running tasks.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// DefaultTimeout applies to tasks without a timeout of their own.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// DefaultMaxRetries applies to tasks without a retry budget of their own.
	DefaultMaxRetries int `mapstructure:"default_max_retries"`
	// DownstreamPolicy is "skip" or "fail": how dependents of a failed task settle.
	DownstreamPolicy string `mapstructure:"downstream_policy"`
}

// RetryConfig holds exponential backoff settings for transient failures.
type RetryConfig struct {
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	Multiplier          float64       `mapstructure:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"`
}

// MessagesConfig holds message bus settings.
type MessagesConfig struct {
	// HistoryCap bounds each workflow's retained message history.
	HistoryCap int `mapstructure:"history_cap"`
}

// BreakerConfig holds per-agent circuit breaker settings.
type BreakerConfig struct {
	// Enabled turns the breakers on.
	Enabled bool `mapstructure:"enabled"`
	// ConsecutiveFailures trips the breaker open.
	ConsecutiveFailures uint32 `mapstructure:"consecutive_failures"`
	// OpenTimeout is how long a tripped breaker stays open.
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// StoreConfig holds result store settings.
type StoreConfig struct {
	// Path is the result store DSN; ":memory:" keeps results process-local.
	Path string `mapstructure:"path"`
}

// Load loads configuration with the following precedence (highest first):
// environment variables (CONDUCTOR_*), project config (.conductor.yaml in the
// current directory or a parent), user config
// (~/.config/conductor/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.max_concurrency", 4)
	v.SetDefault("scheduler.default_timeout", "5m")
	v.SetDefault("scheduler.default_max_retries", 3)
	v.SetDefault("scheduler.downstream_policy", "skip")

	v.SetDefault("retry.initial_interval", "100ms")
	v.SetDefault("retry.max_interval", "10s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.randomization_factor", 0.5)

	v.SetDefault("messages.history_cap", 1000)

	v.SetDefault("breaker.enabled", false)
	v.SetDefault("breaker.consecutive_failures", 5)
	v.SetDefault("breaker.open_timeout", "30s")

	v.SetDefault("store.path", ":memory:")
}

// userConfigDir returns the XDG config directory for conductor.
func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "conductor")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "conductor")
}

// findProjectConfig walks up from the working directory looking for
// .conductor.yaml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".conductor.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
