package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// Store is a complete role and resource backend
type Store interface {
	rbac.RoleStore
	rbac.ResourceStore

	// HealthCheck reports whether the backend is reachable
	HealthCheck(ctx context.Context) error

	// Close releases connections
	Close() error
}

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config for storage backend
type Config struct {
	Driver string // "memory", "postgres", "sqlite3"

	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration

	// SQLite config
	SQLitePath string

	// Run schema migrations on open
	AutoMigrate bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     map[string]time.Duration

	// S3 config for audit archives
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:           DriverPostgres,
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		AutoMigrate:      true,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheTTL: map[string]time.Duration{
			"role":     5 * time.Minute,
			"resource": 15 * time.Minute,
		},
		S3Region: "us-east-1",
	}
}

// Validate checks that the selected driver is fully configured
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres driver requires a postgres URL")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite3 driver requires a database path")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Driver)
	}

	if c.CacheEnabled && c.RedisURL == "" {
		return fmt.Errorf("cache requires a redis URL")
	}
	if c.CacheEnabled && c.Driver == DriverMemory {
		return fmt.Errorf("cache cannot be used with the memory driver")
	}
	return nil
}

// S3Enabled reports whether an archive bucket is configured
func (c Config) S3Enabled() bool {
	return c.S3Bucket != ""
}
