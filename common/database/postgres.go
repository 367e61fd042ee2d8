package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sleepdebt/common/config"

	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

// NewPostgresDB opens a lib/pq pool sized from cfg and verifies it answers within pingTimeout.
func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}
	return db, nil
}

// Close tolerates a nil pool.
func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
