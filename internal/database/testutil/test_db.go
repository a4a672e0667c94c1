package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/convene/internal/database"
)

// TestDBOption prepares a freshly opened test database.
type TestDBOption func(t *testing.T, db *gorm.DB)

// WithAutoMigrate creates the full schema.
func WithAutoMigrate() TestDBOption {
	return func(t *testing.T, db *gorm.DB) {
		require.NoError(t, database.AutoMigrate(db))
	}
}

// WithRows inserts fixture rows in order. Combine it with WithAutoMigrate, which must come first.
func WithRows(rows ...any) TestDBOption {
	return func(t *testing.T, db *gorm.DB) {
		for _, row := range rows {
			require.NoError(t, db.Create(row).Error)
		}
	}
}

// MustOpenTestDB opens a private in-memory SQLite database that is closed when the test ends.
// One pooled connection keeps concurrent callers from hitting shared-cache table locks.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Driver:       "sqlite",
		DSN:          "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, opt := range opts {
		opt(t, db)
	}
	return db
}
