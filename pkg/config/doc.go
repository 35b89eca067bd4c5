// Package config provides application configuration management.
//
// # Overview
//
// Configuration comes from three layers: built-in defaults, an optional
// YAML file named by TALLY_CONFIG, and environment variables. Later
// layers win, so a container can ship a base file and override single
// values through the environment.
//
// # Configuration Structure
//
// Server settings:
//
//	TALLY_HOST="0.0.0.0"
//	TALLY_PORT="8080"
//	TALLY_HEALTH_PORT="9090"
//	TALLY_READ_TIMEOUT="15s"
//	TALLY_WRITE_TIMEOUT="15s"
//	TALLY_RATE_LIMIT_ENABLED="true"
//
// Database settings:
//
//	TALLY_DATABASE_URL="postgres://localhost/tally"
//	TALLY_DATABASE_MAX_OPEN_CONNS="25"
//	TALLY_DATABASE_MAX_IDLE_CONNS="5"
//	TALLY_DATABASE_ADVISORY_LOCKS="true"
//
// Observability settings:
//
//	TALLY_LOG_LEVEL="info"  # debug, info, warn, error
//	TALLY_METRICS_ENABLED="true"
//	TALLY_OTEL_ENABLED="true"
//	TALLY_OTEL_ENDPOINT="otel-collector:4317"
//
// Reporter settings:
//
//	TALLY_REPORTER_SCHEDULE="0 6 * * *"
//	TALLY_REPORTER_WINDOW_DAYS="90"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Database: %s\n", cfg.Database.URL)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/api: Uses server configuration
//   - pkg/observability: Uses observability configuration
package config
