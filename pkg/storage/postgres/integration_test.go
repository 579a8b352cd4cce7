//go:build integration

package postgres

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a PostgreSQL container and returns a migrated store
// connected to it. The container is removed when the test ends.
func setupPostgres(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("gatehouse_test"),
		tcpostgres.WithUsername("gatehouse"),
		tcpostgres.WithPassword("gatehouse_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate PostgreSQL container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conns, err := NewConnectionManager(ConnectionConfig{
		Driver:     DriverPostgres,
		PrimaryURL: connStr,
		MaxConns:   5,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { conns.Close() })

	store := NewStore(conns)
	require.NoError(t, store.Migrate(ctx, testLogger()))
	return store
}

func TestStore_Postgres_Integration(t *testing.T) {
	store := setupPostgres(t)

	runStoreSuite(t, func(t *testing.T) *Store {
		_, err := store.DB().ExecContext(context.Background(), "TRUNCATE roles, resources")
		require.NoError(t, err)
		return store
	})
}

func TestStore_PostgresHealth_Integration(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	assert.NoError(t, store.HealthCheck(ctx))

	applied, err := AppliedMigrations(ctx, store.DB())
	require.NoError(t, err)
	assert.Len(t, applied, len(GetMigrations(DriverPostgres)))
}

// setupMinIO creates a MinIO container and returns an S3Client that uses it
func setupMinIO(t *testing.T) *S3Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Failed to start MinIO container: %v", err)
	}
	t.Cleanup(func() {
		if err := minioContainer.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate MinIO container: %v", err)
		}
	})

	host, err := minioContainer.Host(ctx)
	require.NoError(t, err)
	port, err := minioContainer.MappedPort(ctx, "9000")
	require.NoError(t, err)

	client, err := NewS3Client(ctx, S3Config{
		Endpoint:     "http://" + host + ":" + port.Port(),
		Region:       "us-east-1",
		Bucket:       "audit-archive",
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		UsePathStyle: true,
	})
	require.NoError(t, err, "Failed to create S3 client")
	return client
}

func TestS3Client_Integration(t *testing.T) {
	client := setupMinIO(t)
	ctx := context.Background()

	require.NoError(t, client.HealthCheck(ctx))

	key := "audit/2024-03-01/events.jsonl.gz"
	require.NoError(t, client.PutObject(ctx, key, strings.NewReader("payload"), "application/gzip"))

	exists, err := client.ObjectExists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	body, err := client.GetObject(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	body.Close()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, client.DeleteObject(ctx, key))
	exists, err = client.ObjectExists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}
