// Package dbtest opens throwaway databases for package tests.
package dbtest

import (
	"testing"

	"github.com/xelth-com/stocksyncgo/internal/database"
)

// Open returns a migrated in-memory database closed at test end
func Open(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.OpenSQLite(":memory:", false)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}
