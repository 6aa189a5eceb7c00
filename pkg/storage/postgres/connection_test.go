package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/insight/pkg/storage"
)

// TestParseReplicaURLs tests the ParseReplicaURLs function
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
			result := ParseReplicaURLs(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestConnectionConfigFrom(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.PostgresURL = "postgres://primary/site"
	cfg.PostgresReplicaURLs = "postgres://r1/site, postgres://r2/site"

	got := ConnectionConfigFrom(cfg)

	assert.Equal(t, "postgres://primary/site", got.PrimaryURL)
	assert.Equal(t, []string{"postgres://r1/site", "postgres://r2/site"}, got.ReplicaURLs)
	assert.Equal(t, 20, got.MaxConns)
	assert.Equal(t, 2, got.MinConns)
	assert.Equal(t, 10*time.Second, got.Timeout)
	assert.Equal(t, time.Hour, got.MaxLifetime)
}

func TestReplicaMaxConns(t *testing.T) {
	tests := []struct {
		primaryMax int
		replicaMax int
	}{
		{20, 10},
		{100, 50},
		{15, 7},
		{3, 2},
		{1, 2},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("primary_%d", tt.primaryMax), func(t *testing.T) {
			assert.Equal(t, tt.replicaMax, replicaMaxConns(tt.primaryMax))
		})
	}
}

// TestNewConnectionManager_UnreachablePrimary tests connection manager with a dead primary
func TestNewConnectionManager_UnreachablePrimary(t *testing.T) {
	logger, _ := test.NewNullLogger()
	config := ConnectionConfig{
		PrimaryURL: "postgres://nonexistent:9999/testdb?connect_timeout=1",
		MaxConns:   10,
		MinConns:   2,
		Timeout:    2 * time.Second,
	}

	cm, err := NewConnectionManager(config, logger)
	assert.Error(t, err)
	assert.Nil(t, cm)
	assert.Contains(t, err.Error(), "failed to connect to primary")
}

func TestNewConnectionManagerWithDB(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cm := NewConnectionManagerWithDB(db, nil)
	assert.Equal(t, db, cm.Primary())
	assert.Equal(t, db, cm.Replica(), "no replicas falls back to primary")
	assert.NotNil(t, cm.logger)
}

// TestConnectionManager_Replica tests replica selection
func TestConnectionManager_Replica(t *testing.T) {
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
		iterations := 100
		results := make(chan *sql.DB, iterations)

		for i := 0; i < iterations; i++ {
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
}

// TestConnectionManager_HealthCheck tests health check functionality
func TestConnectionManager_HealthCheck(t *testing.T) {
	newMock := func(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
		t.Helper()
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db, mock
	}

	t.Run("healthy primary and replicas", func(t *testing.T) {
		primaryDB, primaryMock := newMock(t)
		replicaDB, replicaMock := newMock(t)
		primaryMock.ExpectPing()
		replicaMock.ExpectPing()

		cm := &ConnectionManager{primary: primaryDB, replicas: []*sql.DB{replicaDB}}

		assert.NoError(t, cm.HealthCheck(context.Background()))
		assert.NoError(t, primaryMock.ExpectationsWereMet())
		assert.NoError(t, replicaMock.ExpectationsWereMet())
	})

	t.Run("unhealthy primary", func(t *testing.T) {
		primaryDB, primaryMock := newMock(t)
		primaryMock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := &ConnectionManager{primary: primaryDB}

		err := cm.HealthCheck(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("some replicas unhealthy", func(t *testing.T) {
		primaryDB, primaryMock := newMock(t)
		replica1DB, replica1Mock := newMock(t)
		replica2DB, replica2Mock := newMock(t)
		primaryMock.ExpectPing()
		replica1Mock.ExpectPing()
		replica2Mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := &ConnectionManager{primary: primaryDB, replicas: []*sql.DB{replica1DB, replica2DB}}

		assert.NoError(t, cm.HealthCheck(context.Background()))
	})

	t.Run("all replicas unhealthy", func(t *testing.T) {
		primaryDB, primaryMock := newMock(t)
		replica1DB, replica1Mock := newMock(t)
		replica2DB, replica2Mock := newMock(t)
		primaryMock.ExpectPing()
		replica1Mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		replica2Mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		cm := &ConnectionManager{primary: primaryDB, replicas: []*sql.DB{replica1DB, replica2DB}}

		err := cm.HealthCheck(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "all replicas unhealthy: replica-0, replica-1")
	})

	t.Run("cancelled context", func(t *testing.T) {
		primaryDB, _ := newMock(t)
		cm := &ConnectionManager{primary: primaryDB}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.Error(t, cm.HealthCheck(ctx))
	})
}

func TestConnectionManager_Stats(t *testing.T) {
	primaryDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer primaryDB.Close()

	replicaDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer replicaDB.Close()

	cm := &ConnectionManager{primary: primaryDB, replicas: []*sql.DB{replicaDB}}

	stats := cm.Stats()
	assert.Len(t, stats.Replicas, 1)
}

// TestConnectionManager_RemoveUnhealthyReplicas tests replica removal
func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	replica1DB, replica1Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer replica1DB.Close()

	replica2DB, replica2Mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer replica2DB.Close()

	replica1Mock.ExpectPing()
	replica2Mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	replica2Mock.ExpectClose()

	cm := &ConnectionManager{
		primary:  &sql.DB{},
		replicas: []*sql.DB{replica1DB, replica2DB},
	}

	removed := cm.RemoveUnhealthyReplicas(context.Background())
	assert.Equal(t, 1, removed)
	require.Len(t, cm.replicas, 1)
	assert.Equal(t, replica1DB, cm.replicas[0])
	assert.NoError(t, replica2Mock.ExpectationsWereMet())
}

// TestConnectionManager_Close tests connection cleanup
func TestConnectionManager_Close(t *testing.T) {
	t.Run("close primary and replicas", func(t *testing.T) {
		primaryDB, primaryMock, err := sqlmock.New()
		require.NoError(t, err)
		replicaDB, replicaMock, err := sqlmock.New()
		require.NoError(t, err)

		primaryMock.ExpectClose()
		replicaMock.ExpectClose()

		cm := &ConnectionManager{primary: primaryDB, replicas: []*sql.DB{replicaDB}}

		assert.NoError(t, cm.Close())
		assert.Nil(t, cm.replicas)
		assert.NoError(t, primaryMock.ExpectationsWereMet())
		assert.NoError(t, replicaMock.ExpectationsWereMet())
	})

	t.Run("close with errors", func(t *testing.T) {
		primaryDB, primaryMock, err := sqlmock.New()
		require.NoError(t, err)
		replicaDB, replicaMock, err := sqlmock.New()
		require.NoError(t, err)

		primaryMock.ExpectClose().WillReturnError(errors.New("primary close error"))
		replicaMock.ExpectClose().WillReturnError(errors.New("replica close error"))

		cm := &ConnectionManager{primary: primaryDB, replicas: []*sql.DB{replicaDB}}

		err = cm.Close()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "connection close errors")
	})
}

// TestConnectionManager_StartHealthCheckRoutine tests background health check
func TestConnectionManager_StartHealthCheckRoutine(t *testing.T) {
	logger, hook := test.NewNullLogger()

	replicaDB, replicaMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer replicaDB.Close()

	replicaMock.ExpectPing().WillReturnError(errors.New("connection lost"))
	replicaMock.ExpectClose()

	cm := &ConnectionManager{
		primary:  &sql.DB{},
		replicas: []*sql.DB{replicaDB},
		logger:   logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cm.StartHealthCheckRoutine(ctx, 50*time.Millisecond)

	assert.Eventually(t, func() bool {
		cm.mu.RLock()
		defer cm.mu.RUnlock()
		return len(cm.replicas) == 0
	}, time.Second, 10*time.Millisecond, "unhealthy replica should have been removed")

	cancel()

	assert.Eventually(t, func() bool {
		for _, entry := range hook.AllEntries() {
			if entry.Message == "Removed unhealthy replicas" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}
