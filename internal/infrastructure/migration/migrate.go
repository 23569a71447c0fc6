// Package migration owns the engine's schema: the embedded SQL set, a
// golang-migrate runner for the migrate CLI, and the startup check the
// server uses to refuse a schema it does not match.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var embedded embed.FS

// Files returns the embedded migration set
func Files() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Status is where a database stands relative to a migration set
type Status struct {
	Current uint
	Latest  uint
	Dirty   bool
}

// Pending reports whether migrations remain to be applied
func (s Status) Pending() bool {
	return s.Current < s.Latest
}

// Migrator runs golang-migrate with logging around each operation
type Migrator struct {
	migrate *migrate.Migrate
	latest  uint
	logger  *zap.Logger
}

// New creates a Migrator over db using the embedded set. Close releases db.
func New(db *sql.DB, logger *zap.Logger) (*Migrator, error) {
	latest, err := LatestVersion()
	if err != nil {
		return nil, err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	source, err := iofs.New(Files(), ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return newMigrator(m, latest, logger), nil
}

// NewFromDir creates a Migrator reading migrations from dir instead of the
// embedded set, for trying out files not compiled in yet
func NewFromDir(databaseURL, dir string, fsys fs.FS, logger *zap.Logger) (*Migrator, error) {
	entries, err := Scan(fsys)
	if err != nil {
		return nil, err
	}
	var latest uint
	if len(entries) > 0 {
		latest = entries[len(entries)-1].Version
	}
	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return newMigrator(m, latest, logger), nil
}

func newMigrator(m *migrate.Migrate, latest uint, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{migrate: m, latest: latest, logger: logger}
}

// Up applies every pending migration
func (m *Migrator) Up() error {
	return m.run("up", m.migrate.Up)
}

// Down rolls every migration back
func (m *Migrator) Down() error {
	return m.run("down", m.migrate.Down)
}

// Steps applies n migrations forward, or -n back when n is negative
func (m *Migrator) Steps(n int) error {
	return m.run(fmt.Sprintf("steps %+d", n), func() error { return m.migrate.Steps(n) })
}

// GoTo migrates up or down to version
func (m *Migrator) GoTo(version uint) error {
	if version > m.latest {
		return fmt.Errorf("version %d is past the latest migration %d", version, m.latest)
	}
	return m.run(fmt.Sprintf("goto %d", version), func() error { return m.migrate.Migrate(version) })
}

// Force records version as applied without running anything, to clear a
// dirty flag after a failed migration was fixed by hand
func (m *Migrator) Force(version int) error {
	m.logger.Warn("Forcing schema version", zap.Int("version", version))
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Drop removes every table, including the version table
func (m *Migrator) Drop() error {
	m.logger.Warn("Dropping every table")
	if err := m.migrate.Drop(); err != nil {
		return fmt.Errorf("failed to drop schema: %w", err)
	}
	return nil
}

// Version returns the applied version, zero before the first migration
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// Status compares the applied version with the latest in the set
func (m *Migrator) Status() (Status, error) {
	current, dirty, err := m.Version()
	if err != nil {
		return Status{}, err
	}
	return Status{Current: current, Latest: m.latest, Dirty: dirty}, nil
}

// Close releases the source and the database handle
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

func (m *Migrator) run(op string, fn func() error) error {
	from, _, err := m.Version()
	if err != nil {
		return err
	}

	err = fn()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("Schema unchanged", zap.String("op", op), zap.Uint("version", from))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}

	to, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.logger.Info("Schema migrated",
		zap.String("op", op),
		zap.Uint("from", from),
		zap.Uint("to", to),
		zap.Bool("dirty", dirty))
	return nil
}
