package testutil

import (
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notification-service/internal/config"
	"github.com/jwalitptl/notification-service/internal/repository/sqlstore"
)

// NewTestDB creates an in-memory sqlite database with all migrations applied.
// It automatically closes the database when the test completes.
func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlstore.NewDB(config.DatabaseConfig{Driver: sqlstore.DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("creating test db: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing test db: %v", err)
		}
	})

	return db
}
