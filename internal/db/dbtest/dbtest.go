// Package dbtest opens throwaway SQLite warehouses for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/gstripling00/prompt-system/internal/db"
	"github.com/gstripling00/prompt-system/internal/db/dialect"
)

// NewPool opens a writer/reader pool on a fresh file under t.TempDir and closes it on cleanup.
func NewPool(t testing.TB) *db.Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.db")
	writer, err := db.OpenSQLite(path)
	if err != nil {
		t.Fatalf("failed to open sqlite db: %v", err)
	}
	reader, err := db.OpenSQLiteReader(path)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("failed to open sqlite reader: %v", err)
	}
	pool := db.NewPool(sqlx.NewDb(writer, dialect.SQLite3), sqlx.NewDb(reader, dialect.SQLite3))
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("failed to close sqlite db: %v", err)
		}
	})
	return pool
}
