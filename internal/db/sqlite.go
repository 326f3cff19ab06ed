package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBusyTimeout = 5 * time.Second

	// defaultSQLiteReaderConns is the number of concurrent read connections.
	defaultSQLiteReaderConns = 4
)

// OpenSQLite opens the warehouse file for writing with a single connection.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	path := normalizeSQLitePath(dbPath)
	if err := ensureSQLiteFile(path); err != nil {
		return nil, fmt.Errorf("failed to prepare database path: %w", err)
	}

	// WAL lets the API and the snapshot reads proceed while an ingestion run
	// holds the writer; NORMAL sync is durable enough under WAL.
	dsn := sqliteDSN(path, "rwc", "&_journal_mode=WAL&_synchronous=NORMAL")
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	return conn, nil
}

// OpenSQLiteReader opens a read-only pool on a file created by OpenSQLite.
func OpenSQLiteReader(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", sqliteDSN(normalizeSQLitePath(dbPath), "ro", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}
	conn.SetMaxOpenConns(defaultSQLiteReaderConns)
	conn.SetMaxIdleConns(defaultSQLiteReaderConns)
	return conn, nil
}

func sqliteDSN(path, mode, extra string) string {
	return fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=%s&_busy_timeout=%d&_cache=shared%s",
		path, mode, int(defaultBusyTimeout/time.Millisecond), extra,
	)
}

func ensureSQLiteFile(dbPath string) error {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}

func normalizeSQLitePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return dbPath
	}
	return abs
}
