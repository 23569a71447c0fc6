package migration

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_b.up.sql":   {},
		"000002_b.down.sql": {},
		"000001_a.up.sql":   {},
		"000001_a.down.sql": {},
		"notes.txt":         {},
		"nested/x.up.sql":   {},
	}

	entries, err := Scan(fsys)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Version: 1, Name: "000001_a"},
		{Version: 2, Name: "000002_b"},
	}, entries)
}

func TestScan_Invalid(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
	}{
		{"missing down", fstest.MapFS{"000001_a.up.sql": {}}},
		{"no version", fstest.MapFS{"init.up.sql": {}, "init.down.sql": {}}},
		{"zero version", fstest.MapFS{"000000_a.up.sql": {}, "000000_a.down.sql": {}}},
		{"duplicate version", fstest.MapFS{
			"000001_a.up.sql": {}, "000001_a.down.sql": {},
			"1_b.up.sql": {}, "1_b.down.sql": {},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Scan(tt.fsys)
			assert.Error(t, err)
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := Scan(Files())
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for i, e := range entries {
		assert.Equal(t, uint(i+1), e.Version, "embedded versions have no gaps")
	}

	latest, err := LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, entries[len(entries)-1].Version, latest)
}

func TestStatus_Pending(t *testing.T) {
	assert.True(t, Status{Current: 1, Latest: 3}.Pending())
	assert.False(t, Status{Current: 3, Latest: 3}.Pending())
	assert.False(t, Status{Current: 4, Latest: 3}.Pending())
}

const versionQuery = "SELECT version, dirty FROM schema_migrations LIMIT 1"

func TestCheckSchema(t *testing.T) {
	latest, err := LatestVersion()
	require.NoError(t, err)

	tests := []struct {
		name    string
		expect  func(m sqlmock.Sqlmock)
		current uint
		wantErr error
	}{
		{
			name: "current",
			expect: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(versionQuery).WillReturnRows(
					sqlmock.NewRows([]string{"version", "dirty"}).AddRow(int64(latest), false))
			},
			current: latest,
		},
		{
			name: "ahead",
			expect: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(versionQuery).WillReturnRows(
					sqlmock.NewRows([]string{"version", "dirty"}).AddRow(int64(latest+1), false))
			},
			current: latest + 1,
		},
		{
			name: "behind",
			expect: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(versionQuery).WillReturnRows(
					sqlmock.NewRows([]string{"version", "dirty"}).AddRow(int64(latest-1), false))
			},
			current: latest - 1,
			wantErr: ErrSchemaBehind,
		},
		{
			name: "dirty",
			expect: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(versionQuery).WillReturnRows(
					sqlmock.NewRows([]string{"version", "dirty"}).AddRow(int64(latest), true))
			},
			current: latest,
			wantErr: ErrSchemaDirty,
		},
		{
			name: "never migrated",
			expect: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(versionQuery).WillReturnError(&pq.Error{Code: "42P01"})
			},
			wantErr: ErrSchemaBehind,
		},
		{
			name: "empty version table",
			expect: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(versionQuery).WillReturnRows(sqlmock.NewRows([]string{"version", "dirty"}))
			},
			wantErr: ErrSchemaBehind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
			require.NoError(t, err)
			defer db.Close()
			tt.expect(mock)

			status, err := CheckSchema(context.Background(), db)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.current, status.Current)
			assert.Equal(t, latest, status.Latest)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCheckSchema_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery(versionQuery).WillReturnError(assert.AnError)

	_, err = CheckSchema(context.Background(), db)
	assert.ErrorIs(t, err, assert.AnError)
}
