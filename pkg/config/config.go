package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/storage/postgres"
)

// MinJWTSecretLength is the shortest accepted HS256 signing secret
const MinJWTSecretLength = 32

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Auth configuration
	Auth AuthConfig

	// Audit configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Seed configuration
	Seed SeedConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Rate limiting of mutating routes
	RateLimitEnabled     bool
	RateLimitDistributed bool // share limits through Redis
	RateLimitFailOpen    bool
	RateLimitRequests    int
	RateLimitWindow      time.Duration
}

// AuthConfig holds token and authorization settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration

	// Role cache of the permission checker
	CheckerCacheSize int
	CheckerCacheTTL  time.Duration
}

// AuditConfig selects audit sinks and the retention policy
type AuditConfig struct {
	Enabled  bool
	Database bool   // write events to the audit_logs table (postgres only)
	FilePath string // JSON lines directory; empty disables the file sink
	Log      bool   // mirror events into the structured log

	RetentionDays  int
	ArchiveEnabled bool
	ArchivePrefix  string

	// JanitorSchedule is the cron spec of the archive and prune job
	JanitorSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// SeedConfig points at the resource seed file
type SeedConfig struct {
	Path     string
	Watch    bool
	Debounce time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
		Seed:          loadSeedConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:                 getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:                 getEnv("GATEHOUSE_PORT", "8080"),
		ReadTimeout:          getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:         getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:          getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:      getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:         int64(getEnvInt("GATEHOUSE_MAX_BODY_BYTES", 1<<20)),
		HealthPort:           getEnv("GATEHOUSE_HEALTH_PORT", "9090"),
		RateLimitEnabled:     getEnvBool("GATEHOUSE_RATE_LIMIT_ENABLED", true),
		RateLimitDistributed: getEnvBool("GATEHOUSE_RATE_LIMIT_DISTRIBUTED", false),
		RateLimitFailOpen:    getEnvBool("GATEHOUSE_RATE_LIMIT_FAIL_OPEN", true),
		RateLimitRequests:    getEnvInt("GATEHOUSE_RATE_LIMIT_REQUESTS", 600),
		RateLimitWindow:      getEnvDuration("GATEHOUSE_RATE_LIMIT_WINDOW", time.Minute),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if driver := getEnv("GATEHOUSE_STORAGE_DRIVER", ""); driver != "" {
		cfg.Driver = driver
	}

	// PostgreSQL config
	if pgURL := getEnv("GATEHOUSE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("GATEHOUSE_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = postgres.ParseReplicaURLs(replicaURLs)
	}
	if maxConns := getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("GATEHOUSE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("GATEHOUSE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// SQLite config
	if path := getEnv("GATEHOUSE_SQLITE_PATH", ""); path != "" {
		cfg.SQLitePath = path
	}
	cfg.AutoMigrate = getEnvBool("GATEHOUSE_AUTO_MIGRATE", cfg.AutoMigrate)

	// S3 config
	if s3Endpoint := getEnv("GATEHOUSE_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("GATEHOUSE_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("GATEHOUSE_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("GATEHOUSE_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("GATEHOUSE_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	cfg.S3UsePathStyle = getEnvBool("GATEHOUSE_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)

	// Redis config
	if redisURL := getEnv("GATEHOUSE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("GATEHOUSE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("GATEHOUSE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("GATEHOUSE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("GATEHOUSE_CACHE_ENABLED", cfg.CacheEnabled)
	if ttl := getEnvDuration("GATEHOUSE_CACHE_TTL_ROLE", 0); ttl > 0 {
		cfg.CacheTTL[postgres.CacheRole] = ttl
	}
	if ttl := getEnvDuration("GATEHOUSE_CACHE_TTL_RESOURCE", 0); ttl > 0 {
		cfg.CacheTTL[postgres.CacheResource] = ttl
	}

	return cfg
}

// loadAuthConfig loads token settings from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:        getEnv("GATEHOUSE_JWT_SECRET", ""),
		Issuer:           getEnv("GATEHOUSE_JWT_ISSUER", "gatehouse"),
		TokenTTL:         getEnvDuration("GATEHOUSE_TOKEN_TTL", time.Hour),
		CheckerCacheSize: getEnvInt("GATEHOUSE_CHECKER_CACHE_SIZE", 1024),
		CheckerCacheTTL:  getEnvDuration("GATEHOUSE_CHECKER_CACHE_TTL", 30*time.Second),
	}
}

// loadAuditConfig loads audit sinks and retention from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:         getEnvBool("GATEHOUSE_AUDIT_ENABLED", true),
		Database:        getEnvBool("GATEHOUSE_AUDIT_DATABASE", true),
		FilePath:        getEnv("GATEHOUSE_AUDIT_FILE_PATH", ""),
		Log:             getEnvBool("GATEHOUSE_AUDIT_LOG", false),
		RetentionDays:   getEnvInt("GATEHOUSE_AUDIT_RETENTION_DAYS", 90),
		ArchiveEnabled:  getEnvBool("GATEHOUSE_AUDIT_ARCHIVE_ENABLED", false),
		ArchivePrefix:   getEnv("GATEHOUSE_AUDIT_ARCHIVE_PREFIX", "audit"),
		JanitorSchedule: getEnv("GATEHOUSE_JANITOR_SCHEDULE", "0 3 * * *"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEHOUSE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEHOUSE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEHOUSE_OTEL_SERVICE_NAME", "gatehouse"),
		OTelServiceVersion: getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEHOUSE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GATEHOUSE_OTEL_SAMPLE_RATIO", 1),
	}
}

// loadSeedConfig loads the seed file settings from environment
func loadSeedConfig() SeedConfig {
	return SeedConfig{
		Path:     getEnv("GATEHOUSE_SEED_PATH", ""),
		Watch:    getEnvBool("GATEHOUSE_SEED_WATCH", false),
		Debounce: getEnvDuration("GATEHOUSE_SEED_DEBOUNCE", 500*time.Millisecond),
	}
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
	if c.Server.RateLimitEnabled && (c.Server.RateLimitRequests <= 0 || c.Server.RateLimitWindow <= 0) {
		return fmt.Errorf("rate limit requires a positive request count and window")
	}
	if c.Server.RateLimitEnabled && c.Server.RateLimitDistributed && c.Storage.RedisURL == "" {
		return fmt.Errorf("distributed rate limiting requires GATEHOUSE_REDIS_URL")
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	// Validate auth config
	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("GATEHOUSE_JWT_SECRET must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.Issuer == "" {
		return fmt.Errorf("token issuer is required")
	}

	// Validate audit config
	if c.Audit.Enabled && c.Audit.Database && c.Storage.Driver != storage.DriverPostgres {
		return fmt.Errorf("database audit sink requires the postgres storage driver")
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("audit retention must be at least one day")
	}
	if c.Audit.ArchiveEnabled && !c.Storage.S3Enabled() {
		return fmt.Errorf("audit archiving requires GATEHOUSE_S3_BUCKET")
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

	if c.Seed.Watch && c.Seed.Path == "" {
		return fmt.Errorf("seed watching requires GATEHOUSE_SEED_PATH")
	}

	return nil
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

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
