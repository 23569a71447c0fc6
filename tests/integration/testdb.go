//go:build integration

// Package integration runs the metering engine against a real PostgreSQL
// started with testcontainers.
package integration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/saasdash/backend/internal/infrastructure/config"
	"github.com/saasdash/backend/internal/infrastructure/migration"
	"github.com/saasdash/backend/internal/infrastructure/persistence"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm/logger"
)

const (
	pgImage    = "postgres:16-alpine"
	pgDatabase = "meter_test"
	pgUser     = "meter"
	pgPassword = "meter"
)

// TestDB is a migrated database in its own container, opened the way the
// server opens it
type TestDB struct {
	*persistence.Database
	Config config.DatabaseConfig
}

// NewTestDB starts PostgreSQL, runs the embedded migrations with the same
// migrator cmd/migrate uses and checks the server would accept the schema
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx, pgImage,
		tcpostgres.WithDatabase(pgDatabase),
		tcpostgres.WithUsername(pgUser),
		tcpostgres.WithPassword(pgPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		User:            pgUser,
		Password:        pgPassword,
		DBName:          pgDatabase,
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
	migrate(t, cfg.DSN())

	db, err := persistence.Open(ctx, &cfg, logger.Default.LogMode(logger.Silent))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	require.NoError(t, db.Ready(ctx), "server would refuse the migrated schema")

	return &TestDB{Database: db, Config: cfg}
}

// migrate runs on its own connection; the migrator closes it when done
func migrate(t *testing.T, dsn string) {
	t.Helper()
	sqlDB, err := sql.Open("postgres", dsn)
	require.NoError(t, err)

	m, err := migration.New(sqlDB, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, m.Close())
	}()
	require.NoError(t, m.Up())

	status, err := m.Status()
	require.NoError(t, err)
	require.False(t, status.Dirty)
	require.False(t, status.Pending(), "migrations left pending: at %d of %d", status.Current, status.Latest)
}
