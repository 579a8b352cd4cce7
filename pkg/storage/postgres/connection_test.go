package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single URL",
			input:    "postgres://localhost:5432/db",
			expected: []string{"postgres://localhost:5432/db"},
		},
		{
			name:  "URLs with whitespace",
			input: " postgres://host1:5432/db , postgres://host2:5432/db ",
			expected: []string{
				"postgres://host1:5432/db",
				"postgres://host2:5432/db",
			},
		},
		{
			name:     "URLs with empty entries",
			input:    "postgres://host1:5432/db,,postgres://host2:5432/db,",
			expected: []string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{
			name:     "only commas and whitespace",
			input:    " , , , ",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestNewConnectionManager(t *testing.T) {
	t.Run("unsupported driver", func(t *testing.T) {
		cm, err := NewConnectionManager(ConnectionConfig{Driver: "mysql", PrimaryURL: "x"}, testLogger())
		assert.Error(t, err)
		assert.Nil(t, cm)
		assert.Contains(t, err.Error(), "unsupported driver")
	})

	t.Run("sqlite in memory", func(t *testing.T) {
		cm, err := NewConnectionManager(ConnectionConfig{
			Driver:      DriverSQLite,
			PrimaryURL:  ":memory:",
			ReplicaURLs: []string{"ignored"},
		}, testLogger())
		require.NoError(t, err)
		defer cm.Close()

		assert.Equal(t, DriverSQLite, cm.Driver())
		assert.Empty(t, cm.AllReplicas(), "sqlite never opens replicas")
		assert.Equal(t, 1, cm.Primary().Stats().MaxOpenConnections)
		assert.NoError(t, cm.HealthCheck(context.Background()))
	})

	t.Run("unreachable postgres primary", func(t *testing.T) {
		cm, err := NewConnectionManager(ConnectionConfig{
			Driver:     DriverPostgres,
			PrimaryURL: "postgres://nonexistent:9999/testdb?connect_timeout=1&sslmode=disable",
			MaxConns:   2,
			Timeout:    2 * time.Second,
		}, testLogger())
		assert.Error(t, err)
		assert.Nil(t, cm)
		assert.Contains(t, err.Error(), "failed to ping primary")
	})

	t.Run("replicas rejected for sqlite", func(t *testing.T) {
		cm := NewConnectionManagerFromDB(&sql.DB{}, DriverSQLite)
		err := cm.AddReplica("file::memory:")
		assert.Error(t, err)
	})
}

func TestConnectionManager_Replica(t *testing.T) {
	t.Run("no replicas - fallback to primary", func(t *testing.T) {
		primaryDB := &sql.DB{}
		cm := &ConnectionManager{primary: primaryDB}

		assert.Same(t, primaryDB, cm.Replica())
	})

	t.Run("round-robin selection with multiple replicas", func(t *testing.T) {
		replica1 := &sql.DB{}
		replica2 := &sql.DB{}
		replica3 := &sql.DB{}

		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{replica1, replica2, replica3},
		}

		selections := make(map[*sql.DB]int)
		for i := 0; i < 30; i++ {
			selections[cm.Replica()]++
		}

		assert.Equal(t, 10, selections[replica1])
		assert.Equal(t, 10, selections[replica2])
		assert.Equal(t, 10, selections[replica3])
	})

	t.Run("concurrent replica selection", func(t *testing.T) {
		replica1 := &sql.DB{}
		replica2 := &sql.DB{}

		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{replica1, replica2},
		}

		var wg sync.WaitGroup
		results := make(chan *sql.DB, 100)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- cm.Replica()
			}()
		}
		wg.Wait()
		close(results)

		selections := make(map[*sql.DB]int)
		for replica := range results {
			selections[replica]++
		}
		assert.Equal(t, 50, selections[replica1])
		assert.Equal(t, 50, selections[replica2])
	})

	t.Run("AllReplicas returns a copy", func(t *testing.T) {
		replica1 := &sql.DB{}
		cm := &ConnectionManager{
			primary:  &sql.DB{},
			replicas: []*sql.DB{replica1},
		}

		replicas := cm.AllReplicas()
		replicas[0] = &sql.DB{}
		assert.Same(t, replica1, cm.AllReplicas()[0])
	})
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	newMock := func(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db, mock
	}

	t.Run("healthy primary and replicas", func(t *testing.T) {
		primary, primaryMock := newMock(t)
		replica, replicaMock := newMock(t)
		primaryMock.ExpectPing()
		replicaMock.ExpectPing()

		cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica}}
		assert.NoError(t, cm.HealthCheck(context.Background()))
		assert.NoError(t, primaryMock.ExpectationsWereMet())
		assert.NoError(t, replicaMock.ExpectationsWereMet())
	})

	t.Run("primary down", func(t *testing.T) {
		primary, primaryMock := newMock(t)
		primaryMock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := &ConnectionManager{primary: primary}
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("one of two replicas down is still healthy", func(t *testing.T) {
		primary, primaryMock := newMock(t)
		replica1, mock1 := newMock(t)
		replica2, mock2 := newMock(t)
		primaryMock.ExpectPing()
		mock1.ExpectPing().WillReturnError(errors.New("down"))
		mock2.ExpectPing()

		cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica1, replica2}}
		assert.NoError(t, cm.HealthCheck(context.Background()))
	})

	t.Run("all replicas down", func(t *testing.T) {
		primary, primaryMock := newMock(t)
		replica, replicaMock := newMock(t)
		primaryMock.ExpectPing()
		replicaMock.ExpectPing().WillReturnError(errors.New("down"))

		cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica}}
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all replicas unhealthy: replica-0")
	})
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	healthy, healthyMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer healthy.Close()
	broken, brokenMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	healthyMock.ExpectPing()
	brokenMock.ExpectPing().WillReturnError(errors.New("connection lost"))
	brokenMock.ExpectClose()

	cm := &ConnectionManager{
		primary:  &sql.DB{},
		replicas: []*sql.DB{healthy, broken},
	}

	removed := cm.RemoveUnhealthyReplicas(context.Background())
	assert.Equal(t, 1, removed)
	assert.Equal(t, []*sql.DB{healthy}, cm.AllReplicas())
	assert.NoError(t, brokenMock.ExpectationsWereMet())
}

func TestConnectionManager_StartHealthCheckRoutine(t *testing.T) {
	replica, replicaMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	replicaMock.ExpectPing().WillReturnError(errors.New("connection lost"))
	replicaMock.ExpectClose()

	cm := NewConnectionManagerFromDB(&sql.DB{}, DriverPostgres)
	cm.replicas = []*sql.DB{replica}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cm.StartHealthCheckRoutine(ctx, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		return len(cm.AllReplicas()) == 0
	}, time.Second, 10*time.Millisecond, "unhealthy replica should have been removed")
}

func TestConnectionManager_Close(t *testing.T) {
	primary, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	replica, replicaMock, err := sqlmock.New()
	require.NoError(t, err)

	primaryMock.ExpectClose()
	replicaMock.ExpectClose()

	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica}}

	assert.NoError(t, cm.Close())
	assert.Nil(t, cm.replicas)
	assert.NoError(t, primaryMock.ExpectationsWereMet())
	assert.NoError(t, replicaMock.ExpectationsWereMet())
}
