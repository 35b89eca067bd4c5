package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tallyworks/tally/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`

	// Reporter configuration (tally-reporter worker)
	Reporter ReporterConfig `yaml:"reporter"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// Per-user token bucket rate limiting
	RateLimitEnabled bool `yaml:"rate_limit_enabled"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// AdvisoryLocks serializes capacity checks per worker-day using
	// pg_advisory_xact_lock. Postgres only.
	AdvisoryLocks bool `yaml:"advisory_locks"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
}

// ReporterConfig holds the over-allocation reporter worker settings
type ReporterConfig struct {
	// Schedule is a cron expression for the scan cadence.
	Schedule string `yaml:"schedule"`

	// WindowDays is how far back and forward the scan looks from today.
	WindowDays int `yaml:"window_days"`

	// MetricsPort serves the reporter's own /metrics endpoint.
	MetricsPort string `yaml:"metrics_port"`
}

// LoadConfig loads configuration from an optional YAML file (TALLY_CONFIG)
// overlaid with environment variables. Environment wins over file.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("TALLY_CONFIG"); path != "" {
		if err := loadConfigFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             "8080",
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     15 * time.Second,
			IdleTimeout:      60 * time.Second,
			ShutdownTimeout:  30 * time.Second,
			HealthPort:       "9090",
			RateLimitEnabled: true,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			AdvisoryLocks:   true,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEnabled:        false,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "tally",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
		Reporter: ReporterConfig{
			Schedule:    "0 6 * * *",
			WindowDays:  90,
			MetricsPort: "9091",
		},
	}
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides file and default values with environment variables
func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("TALLY_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("TALLY_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("TALLY_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("TALLY_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("TALLY_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("TALLY_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.HealthPort = getEnv("TALLY_HEALTH_PORT", cfg.Server.HealthPort)
	cfg.Server.RateLimitEnabled = getEnvBool("TALLY_RATE_LIMIT_ENABLED", cfg.Server.RateLimitEnabled)

	cfg.Database.URL = getEnv("TALLY_DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = getEnvInt("TALLY_DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("TALLY_DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnMaxLifetime = getEnvDuration("TALLY_DATABASE_CONN_MAX_LIFETIME", cfg.Database.ConnMaxLifetime)
	cfg.Database.AdvisoryLocks = getEnvBool("TALLY_DATABASE_ADVISORY_LOCKS", cfg.Database.AdvisoryLocks)

	cfg.Observability.LogLevel = getEnv("TALLY_LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.MetricsEnabled = getEnvBool("TALLY_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.OTelEnabled = getEnvBool("TALLY_OTEL_ENABLED", cfg.Observability.OTelEnabled)
	cfg.Observability.OTelEndpoint = getEnv("TALLY_OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	cfg.Observability.OTelServiceName = getEnv("TALLY_OTEL_SERVICE_NAME", cfg.Observability.OTelServiceName)
	cfg.Observability.OTelServiceVersion = getEnv("TALLY_OTEL_SERVICE_VERSION", cfg.Observability.OTelServiceVersion)
	cfg.Observability.OTelInsecure = getEnvBool("TALLY_OTEL_INSECURE", cfg.Observability.OTelInsecure)

	cfg.Reporter.Schedule = getEnv("TALLY_REPORTER_SCHEDULE", cfg.Reporter.Schedule)
	cfg.Reporter.WindowDays = getEnvInt("TALLY_REPORTER_WINDOW_DAYS", cfg.Reporter.WindowDays)
	cfg.Reporter.MetricsPort = getEnv("TALLY_REPORTER_METRICS_PORT", cfg.Reporter.MetricsPort)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate database config
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("max idle connections must not exceed max open connections")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	// Validate reporter config
	if c.Reporter.WindowDays < 1 {
		return fmt.Errorf("reporter window must be at least one day")
	}
	if c.Reporter.MetricsPort == "" {
		return fmt.Errorf("reporter metrics port is required")
	}

	return nil
}

// ParsedLogLevel parses the configured log level string
func (c *ObservabilityConfig) ParsedLogLevel() observability.LogLevel {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
