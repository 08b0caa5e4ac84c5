package database

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTest opens a migrated database in a per-test temp dir and closes it on cleanup.
func OpenTest(t testing.TB) *sql.DB {
	t.Helper()

	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}
