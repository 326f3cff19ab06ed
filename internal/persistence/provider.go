// Package persistence opens the warehouse selected by configuration.
package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/gstripling00/prompt-system/internal/common/config"
	"github.com/gstripling00/prompt-system/internal/common/logger"
	"github.com/gstripling00/prompt-system/internal/db"
	"github.com/gstripling00/prompt-system/internal/db/dialect"
)

// Provide opens the writer/reader pool for the configured driver and returns a cleanup func.
func Provide(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*db.Pool, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		return provideSQLite(cfg.Path, log)
	case "postgres":
		conn, err := db.OpenPostgres(ctx, cfg.DSN(), cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, nil, err
		}
		shared := sqlx.NewDb(conn, dialect.PGX)
		pool := db.NewPool(shared, shared)
		if log != nil {
			log.Info("Database initialized",
				zap.String("db_driver", cfg.Driver),
				zap.String("db_host", cfg.Host),
				zap.String("db_name", cfg.DBName))
		}
		return pool, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func provideSQLite(path string, log *logger.Logger) (*db.Pool, func() error, error) {
	writerConn, err := db.OpenSQLite(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	readerConn, err := db.OpenSQLiteReader(path)
	if err != nil {
		_ = writerConn.Close()
		return nil, nil, fmt.Errorf("failed to open sqlite reader: %w", err)
	}
	pool := db.NewPool(sqlx.NewDb(writerConn, dialect.SQLite3), sqlx.NewDb(readerConn, dialect.SQLite3))
	if log != nil {
		log.Info("Database initialized", zap.String("db_path", path), zap.String("db_driver", "sqlite"))
	}
	cleanup := func() error {
		// PRAGMA optimize refreshes planner statistics cheaply on every close.
		_, _ = pool.Writer().Exec("PRAGMA optimize")
		return pool.Close()
	}
	return pool, cleanup, nil
}
