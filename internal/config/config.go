// Package config loads hdaguard configuration.
//
// Configuration is read from a single YAML file passed with --config. There
// is no automatic discovery: without a file every option takes its default.
// Values are validated once at startup and never change afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/hdaguard/internal/policy"
)

const (
	DefaultRetryIntervalSeconds     = 300
	DefaultMaxRetries               = 3
	DefaultLongRetryIntervalMinutes = 30
	DefaultLogRetentionDays         = 14
	DefaultLogLevel                 = "info"
)

var (
	errEmptyPattern      = errors.New("device_pattern must not be empty")
	errRetryInterval     = errors.New("retry_interval_seconds must be positive")
	errLongRetryInterval = errors.New("long_retry_interval_minutes must be positive")
	errMaxRetries        = errors.New("max_retries must not be negative")
	errRetention         = errors.New("log.retention_days must not be negative")
)

// Config is the full runtime configuration.
type Config struct {
	// DevicePattern selects devices by display name (glob or substring).
	DevicePattern string `yaml:"device_pattern"`

	// TargetAllMatches makes routine passes disable matches whatever
	// their current status.
	TargetAllMatches bool `yaml:"target_all_matches"`

	// RetryIntervalSeconds is both the polling interval and the wait
	// between short registration retries.
	RetryIntervalSeconds int `yaml:"retry_interval_seconds"`

	// MaxRetries is the number of short registration retries before the
	// long backoff.
	MaxRetries int `yaml:"max_retries"`

	// LongRetryIntervalMinutes is the cool-down after MaxRetries failures.
	LongRetryIntervalMinutes int `yaml:"long_retry_interval_minutes"`

	// DataDir holds the state store and its key.
	DataDir string `yaml:"data_dir"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures the log sink.
type LogConfig struct {
	Path          string `yaml:"path"`
	Level         string `yaml:"level"`
	RetentionDays int    `yaml:"retention_days"`
	Stderr        bool   `yaml:"stderr"` // Mirror entries to stderr
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is written after every pass when set, for the node_exporter
	// textfile collector.
	Textfile string `yaml:"textfile"`
}

// Default returns the built-in configuration. Paths come from the
// platform layout and may be empty for callers that set their own.
func Default(dataDir, logPath string) *Config {
	return &Config{
		DevicePattern:            policy.DefaultPattern,
		RetryIntervalSeconds:     DefaultRetryIntervalSeconds,
		MaxRetries:               DefaultMaxRetries,
		LongRetryIntervalMinutes: DefaultLongRetryIntervalMinutes,
		DataDir:                  dataDir,
		Log: LogConfig{
			Path:          logPath,
			Level:         DefaultLogLevel,
			RetentionDays: DefaultLogRetentionDays,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string, defaults *Config) (*Config, error) {
	cfg := *defaults
	if path == "" {
		return &cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks option ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.DevicePattern == "" {
		errs = append(errs, errEmptyPattern)
	}
	if c.RetryIntervalSeconds <= 0 {
		errs = append(errs, errRetryInterval)
	}
	if c.LongRetryIntervalMinutes <= 0 {
		errs = append(errs, errLongRetryInterval)
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errMaxRetries)
	}
	if c.Log.RetentionDays < 0 {
		errs = append(errs, errRetention)
	}
	return errors.Join(errs...)
}

// RetryInterval is the polling interval and short retry wait.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}

// LongRetryInterval is the registration cool-down.
func (c *Config) LongRetryInterval() time.Duration {
	return time.Duration(c.LongRetryIntervalMinutes) * time.Minute
}

// LogRetention is how long rotated log files are kept.
func (c *Config) LogRetention() time.Duration {
	return time.Duration(c.Log.RetentionDays) * 24 * time.Hour
}

// Policy compiles the ban policy.
func (c *Config) Policy() (*policy.BanPolicy, error) {
	return policy.New(c.DevicePattern, c.TargetAllMatches)
}

// Save writes the configuration as YAML, creating parent directories.
// An existing file is left untouched.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
