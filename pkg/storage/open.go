package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage/memory"
	"github.com/platinummonkey/gatehouse/pkg/storage/postgres"
)

// Backend is an opened store together with the connections it owns
type Backend struct {
	Store

	// DB is the primary SQL connection; nil for the memory driver
	DB *sql.DB

	// Redis is the cache connection; nil when caching is disabled
	Redis *postgres.RedisClient

	sql   *postgres.Store
	cache *postgres.RedisCache
}

// Open builds the store selected by config.Driver, runs migrations when
// AutoMigrate is set and wraps the store in a Redis cache when enabled
func Open(ctx context.Context, config Config, logger *observability.Logger) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}

	if config.Driver == DriverMemory {
		return &Backend{Store: memory.New()}, nil
	}

	dsn := config.PostgresURL
	if config.Driver == DriverSQLite {
		dsn = config.SQLitePath
	}

	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		Driver:      config.Driver,
		PrimaryURL:  dsn,
		ReplicaURLs: config.PostgresReplicaURLs,
		MaxConns:    config.PostgresMaxConns,
		MinConns:    config.PostgresMinConns,
		Timeout:     config.PostgresTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	sqlStore := postgres.NewStore(conns)
	if config.AutoMigrate {
		if err := sqlStore.Migrate(ctx, logger); err != nil {
			conns.Close()
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}

	backend := &Backend{Store: sqlStore, DB: conns.Primary(), sql: sqlStore}

	if config.CacheEnabled {
		client, err := postgres.NewRedisClient(postgres.RedisConfig{
			URL:        config.RedisURL,
			Password:   config.RedisPassword,
			DB:         config.RedisDB,
			MaxRetries: config.RedisMaxRetries,
			PoolSize:   config.RedisPoolSize,
		})
		if err != nil {
			conns.Close()
			return nil, err
		}
		backend.Redis = client
		backend.cache = postgres.NewRedisCache(sqlStore, client, config.CacheTTL, logger)
		backend.Store = &cachedStore{RedisCache: backend.cache, sql: sqlStore}
	}

	return backend, nil
}

// SetMetrics enables storage and cache metrics where supported
func (b *Backend) SetMetrics(metrics *observability.Metrics) {
	if b.sql != nil {
		b.sql.SetMetrics(metrics)
	}
	if b.cache != nil {
		b.cache.SetMetrics(metrics)
	}
}

// Close closes the store and the cache connection
func (b *Backend) Close() error {
	err := b.Store.Close()
	if b.Redis != nil {
		if cerr := b.Redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// cachedStore adds health and close to the cache decorator
type cachedStore struct {
	*postgres.RedisCache
	sql *postgres.Store
}

func (c *cachedStore) HealthCheck(ctx context.Context) error {
	return c.sql.HealthCheck(ctx)
}

func (c *cachedStore) Close() error {
	return c.sql.Close()
}

// OpenArchive connects to the S3 bucket that receives audit archives
func OpenArchive(ctx context.Context, config Config) (*postgres.S3Client, error) {
	if !config.S3Enabled() {
		return nil, fmt.Errorf("no archive bucket configured")
	}
	return postgres.NewS3Client(ctx, postgres.S3Config{
		Endpoint:     config.S3Endpoint,
		Region:       config.S3Region,
		Bucket:       config.S3Bucket,
		AccessKey:    config.S3AccessKey,
		SecretKey:    config.S3SecretKey,
		UsePathStyle: config.S3UsePathStyle,
	})
}
