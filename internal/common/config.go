package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Queue       QueueConfig       `toml:"queue"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Security    SecurityConfig    `toml:"security"`
	Profiles    ProfilesConfig    `toml:"profiles"`
	Bootstrap   BootstrapConfig   `toml:"bootstrap"`
	RateLimit   RateLimitConfig   `toml:"rate_limit"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	QueueName         string `toml:"queue_name" validate:"required"` // Queue name prefix in Badger
	Concurrency       int    `toml:"concurrency" validate:"min=1"`   // Number of concurrent workers
	PollInterval      string `toml:"poll_interval"`                  // How often workers poll for messages, e.g. "1s"
	VisibilityTimeout string `toml:"visibility_timeout"`             // Message visibility timeout for redelivery, e.g. "5m"
	MaxReceive        int    `toml:"max_receive" validate:"min=1"`   // Max receives before dead-letter
	BackoffBase       string `toml:"backoff_base"`                   // Base delay for exponential retry backoff, e.g. "5s"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// SecurityConfig holds the credential encryption settings. The encryption
// key must be at least 32 characters; startup fails otherwise.
type SecurityConfig struct {
	EncryptionKey string `toml:"encryption_key" validate:"required,min=32"`
}

// ProfilesConfig contains configuration for deployment profile loading
type ProfilesConfig struct {
	Dir string `toml:"dir"` // Directory containing profile files (TOML)
}

// BootstrapConfig controls the rendered one-line installer commands
type BootstrapConfig struct {
	BaseURL string `toml:"base_url" validate:"required,url"` // Public base URL embedded in bootstrap commands
}

// RateLimitConfig throttles job creation per owner
type RateLimitConfig struct {
	CreatePerMinute int    `toml:"create_per_minute" validate:"min=1"` // Sustained job creations per minute per owner
	Burst           int    `toml:"burst" validate:"min=1"`             // Burst allowance per owner
	TTL             string `toml:"ttl"`                                // Idle time before a per-owner limiter is evicted
}

// MaintenanceConfig drives the background cron housekeeping
type MaintenanceConfig struct {
	StatsSchedule string `toml:"stats_schedule"` // Cron spec for the queue stats heartbeat
	GCSchedule    string `toml:"gc_schedule"`    // Cron spec for Badger value-log GC
}

// NewDefaultConfig returns a config with sensible defaults for local development
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Queue: QueueConfig{
			QueueName:         "deployments",
			Concurrency:       2,
			PollInterval:      "1s",
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			BackoffBase:       "5s",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/deployd",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Profiles: ProfilesConfig{
			Dir: "./profiles",
		},
		Bootstrap: BootstrapConfig{
			BaseURL: "http://localhost:8085",
		},
		RateLimit: RateLimitConfig{
			CreatePerMinute: 30,
			Burst:           10,
			TTL:             "10m",
		},
		Maintenance: MaintenanceConfig{
			StatsSchedule: "@every 1m",
			GCSchedule:    "@every 10m",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files. Later files override
// earlier files, environment variables override all files, CLI flags are
// applied last by the caller via ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DEPLOYD_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("DEPLOYD_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("DEPLOYD_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if pollInterval := os.Getenv("DEPLOYD_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("DEPLOYD_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("DEPLOYD_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("DEPLOYD_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if m, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = m
		}
	}
	if queueName := os.Getenv("DEPLOYD_QUEUE_NAME"); queueName != "" {
		config.Queue.QueueName = queueName
	}

	if badgerPath := os.Getenv("DEPLOYD_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("DEPLOYD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("DEPLOYD_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("DEPLOYD_LOG_OUTPUT"); output != "" {
		parts := strings.Split(output, ",")
		outputs := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if key := os.Getenv("DEPLOYD_ENCRYPTION_KEY"); key != "" {
		config.Security.EncryptionKey = key
	}

	if dir := os.Getenv("DEPLOYD_PROFILES_DIR"); dir != "" {
		config.Profiles.Dir = dir
	}

	if baseURL := os.Getenv("DEPLOYD_BOOTSTRAP_BASE_URL"); baseURL != "" {
		config.Bootstrap.BaseURL = baseURL
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the configuration for fatal misconfiguration. Duration
// fields are parsed here so a bad value fails at startup rather than when
// the queue or worker first reads it.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(errs))
			for _, fe := range errs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"queue.poll_interval":      c.Queue.PollInterval,
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"queue.backoff_base":       c.Queue.BackoffBase,
		"rate_limit.ttl":           c.RateLimit.TTL,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid configuration: %s %q is not a duration: %w", name, value, err)
		}
	}

	return nil
}

// PollIntervalDuration returns the parsed worker poll interval
func (c *Config) PollIntervalDuration() time.Duration {
	return parseDurationOr(c.Queue.PollInterval, time.Second)
}

// VisibilityTimeoutDuration returns the parsed queue visibility timeout
func (c *Config) VisibilityTimeoutDuration() time.Duration {
	return parseDurationOr(c.Queue.VisibilityTimeout, 5*time.Minute)
}

// BackoffBaseDuration returns the parsed retry backoff base delay
func (c *Config) BackoffBaseDuration() time.Duration {
	return parseDurationOr(c.Queue.BackoffBase, 5*time.Second)
}

// RateLimitTTLDuration returns the parsed per-owner limiter eviction TTL
func (c *Config) RateLimitTTLDuration() time.Duration {
	return parseDurationOr(c.RateLimit.TTL, 10*time.Minute)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
