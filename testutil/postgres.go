package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/KainCH/omniasylum/db"
)

// SetupTestDB opens the Postgres instance named by TEST_PG_DSN and applies the
// schema, skipping the test when no database is available. The connection is
// closed when the test finishes.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}

	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}
