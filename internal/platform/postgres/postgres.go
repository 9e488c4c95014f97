// Package postgres provides the shared Postgres access layer: connection
// setup, the session-scoped advisory mutex, and the savepoint-based
// fault-isolated runner used by the tick orchestrator.
package postgres

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/limbopet/worldcore/internal/config"
)

// Client is the query surface shared by *sqlx.DB, *sqlx.Tx and *sqlx.Conn.
// Services accept a Client so the same code runs inside or outside an
// explicit transaction.
type Client interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

var (
	_ Client = (*sqlx.DB)(nil)
	_ Client = (*sqlx.Tx)(nil)
	_ Client = (*sqlx.Conn)(nil)
)

// Open connects to Postgres and applies pool settings.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Std() > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime))
	}
	return db, nil
}
