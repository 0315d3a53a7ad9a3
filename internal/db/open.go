package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

type Config struct {
	Path          string // e.g. "./data/lanegate.db"
	Env           string // "dev" | "prod"
	BusyTimeoutMs int
}

// Open opens the SQLite database, validates the connection and applies
// pending migrations.  The returned pool is capped at one connection;
// every write goes through a Worker.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = "./data/lanegate.db"
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.BusyTimeoutMs <= 0 {
		cfg.BusyTimeoutMs = 5000
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	// Per-connection PRAGMAs: FKs on, WAL so the dashboard can read while
	// the log writer appends, busy_timeout to ride out its writes.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)",
		cfg.Path, cfg.BusyTimeoutMs,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	applied, err := Migrate(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	for _, name := range applied {
		logger.Info("applied migration", zap.String("migration", name))
	}

	logger.Info("database ready", zap.String("path", cfg.Path), zap.String("env", cfg.Env))
	return conn, nil
}
