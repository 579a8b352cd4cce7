// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from GATEHOUSE_* environment
// variables with defaults for everything except the token secret and the
// connection string of the selected storage driver.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_HOST="0.0.0.0"
//	GATEHOUSE_PORT="8080"
//	GATEHOUSE_HEALTH_PORT="9090"
//	GATEHOUSE_READ_TIMEOUT="15s"
//	GATEHOUSE_MAX_BODY_BYTES="1048576"
//	GATEHOUSE_RATE_LIMIT_ENABLED="true"
//	GATEHOUSE_RATE_LIMIT_DISTRIBUTED="false"  # share limits through Redis
//	GATEHOUSE_RATE_LIMIT_REQUESTS="600"
//	GATEHOUSE_RATE_LIMIT_WINDOW="1m"
//
// Storage settings:
//
//	GATEHOUSE_STORAGE_DRIVER="postgres"  # memory, postgres, sqlite3
//	GATEHOUSE_POSTGRES_URL="postgres://localhost/gatehouse"
//	GATEHOUSE_POSTGRES_REPLICA_URLS="postgres://replica1,postgres://replica2"
//	GATEHOUSE_SQLITE_PATH="/var/lib/gatehouse/gatehouse.db"
//	GATEHOUSE_AUTO_MIGRATE="true"
//
// Cache settings:
//
//	GATEHOUSE_CACHE_ENABLED="true"
//	GATEHOUSE_REDIS_URL="redis://localhost:6379"
//	GATEHOUSE_CACHE_TTL_ROLE="5m"
//	GATEHOUSE_CACHE_TTL_RESOURCE="15m"
//
// Auth settings:
//
//	GATEHOUSE_JWT_SECRET="..."  # required, at least 32 bytes
//	GATEHOUSE_JWT_ISSUER="gatehouse"
//	GATEHOUSE_TOKEN_TTL="1h"
//	GATEHOUSE_CHECKER_CACHE_TTL="30s"
//
// Audit settings:
//
//	GATEHOUSE_AUDIT_DATABASE="true"
//	GATEHOUSE_AUDIT_FILE_PATH="/var/log/gatehouse"
//	GATEHOUSE_AUDIT_RETENTION_DAYS="90"
//	GATEHOUSE_AUDIT_ARCHIVE_ENABLED="true"
//	GATEHOUSE_S3_BUCKET="gatehouse-audit"
//	GATEHOUSE_JANITOR_SCHEDULE="0 3 * * *"
//
// Observability settings:
//
//	GATEHOUSE_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEHOUSE_METRICS_ENABLED="true"
//	GATEHOUSE_OTEL_ENABLED="true"
//	GATEHOUSE_OTEL_ENDPOINT="otel-collector:4317"
//
// Seed settings:
//
//	GATEHOUSE_SEED_PATH="/etc/gatehouse/resources.yaml"
//	GATEHOUSE_SEED_WATCH="true"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Storage: %s\n", cfg.Storage.Driver)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
//   - pkg/api: Wires every section into the running server
package config
