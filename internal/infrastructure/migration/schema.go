package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// golang-migrate keeps a single row here
const versionTable = "schema_migrations"

var (
	// ErrSchemaDirty means a migration failed halfway and needs a manual force
	ErrSchemaDirty = errors.New("database schema is dirty")
	// ErrSchemaBehind means migrations compiled into the binary are not applied yet
	ErrSchemaBehind = errors.New("database schema is behind the binary")
)

// CheckSchema reads the applied version without touching the schema. It
// fails when the schema is dirty or older than the embedded set; a newer
// schema is accepted so a rollout can migrate ahead of older instances.
func CheckSchema(ctx context.Context, db *sql.DB) (Status, error) {
	latest, err := LatestVersion()
	if err != nil {
		return Status{}, err
	}
	status := Status{Latest: latest}

	var version int64
	row := db.QueryRowContext(ctx, "SELECT version, dirty FROM "+versionTable+" LIMIT 1")
	switch err := row.Scan(&version, &status.Dirty); {
	case errors.Is(err, sql.ErrNoRows), isUndefinedTable(err):
		// nothing applied yet
	case err != nil:
		return status, fmt.Errorf("failed to read schema version: %w", err)
	default:
		status.Current = uint(version)
	}

	if status.Dirty {
		return status, fmt.Errorf("%w at version %d", ErrSchemaDirty, status.Current)
	}
	if status.Pending() {
		return status, fmt.Errorf("%w: at %d, need %d", ErrSchemaBehind, status.Current, status.Latest)
	}
	return status, nil
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42P01"
}
