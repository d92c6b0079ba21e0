package repositories

import (
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/cadenza/internal/backend"
	"github.com/desertthunder/cadenza/internal/shared"
	tu "github.com/desertthunder/cadenza/internal/testing"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

// setupLegacyDB rolls back the optional goal columns, standing in for an older backend schema.
func setupLegacyDB(t *testing.T) *sql.DB {
	t.Helper()

	db := setupTestDB(t)
	if err := shared.RollbackMigration(db); err != nil {
		t.Fatalf("failed to roll back optional goal columns: %v", err)
	}
	return db
}

func setupClient(db *sql.DB) *tu.RecordingClient {
	return tu.NewRecordingClient(backend.NewSQLite(db))
}

func testLogger() *log.Logger {
	return shared.NewLogger(io.Discard)
}

func testClock() *tu.Clock {
	return tu.NewClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local))
}

func strPtr(s string) *string { return &s }
