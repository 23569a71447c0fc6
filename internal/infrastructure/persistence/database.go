package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/saasdash/backend/internal/infrastructure/config"
	"github.com/saasdash/backend/internal/infrastructure/migration"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database is the relational source of truth behind the repositories
type Database struct {
	DB  *gorm.DB
	sql *sql.DB
}

// Open connects to PostgreSQL, sizes the pool and pings it within ctx
func Open(ctx context.Context, cfg *config.DatabaseConfig, gormLogger logger.Interface) (*Database, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	d, err := wrap(db)
	if err != nil {
		return nil, err
	}

	d.sql.SetMaxOpenConns(cfg.MaxOpenConns)
	d.sql.SetMaxIdleConns(cfg.MaxIdleConns)
	d.sql.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	d.sql.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := d.Ping(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return d, nil
}

func wrap(db *gorm.DB) (*Database, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return &Database{DB: db, sql: sqlDB}, nil
}

// Close closes the pool
func (d *Database) Close() error {
	return d.sql.Close()
}

// Ping checks that a connection can be made
func (d *Database) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// Ready pings and verifies the schema matches the migrations compiled into
// the binary. It backs both the startup gate and the health check.
func (d *Database) Ready(ctx context.Context) error {
	if err := d.Ping(ctx); err != nil {
		return err
	}
	_, err := migration.CheckSchema(ctx, d.sql)
	return err
}
