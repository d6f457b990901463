package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"pricewatch/logger"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL flavour differences between Postgres and SQLite
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// DB wraps a connection pool with the dialect it speaks
type DB struct {
	*sql.DB
	Dialect Dialect
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// Rebind rewrites $n placeholders for the active dialect
func (db *DB) Rebind(query string) string {
	if db.Dialect == SQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

// ExecContext runs a rebound statement
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.DB.ExecContext(ctx, db.Rebind(query), args...)
}

// QueryContext runs a rebound query
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, db.Rebind(query), args...)
}

// QueryRowContext runs a rebound single-row query
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, db.Rebind(query), args...)
}

// Open connects to the store named by dsn. postgres:// and postgresql:// URLs use
// lib/pq; sqlite://path, file: URIs and :memory: use the pure-Go SQLite driver.
func Open(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	driver, source, dialect := resolve(dsn)
	conn, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialect == SQLite {
		// A single connection keeps :memory: databases shared and serializes writers
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{DB: conn, Dialect: dialect}
	if dialect == SQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	logger.Info("connected to database", "dialect", dialect.String())
	return db, nil
}

func resolve(dsn string) (driver, source string, dialect Dialect) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, Postgres
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), SQLite
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:", strings.HasSuffix(dsn, ".db"):
		return "sqlite", dsn, SQLite
	default:
		// key=value connection strings
		return "postgres", dsn, Postgres
	}
}

// CreateTables creates the necessary tables if they don't exist
func (db *DB) CreateTables(ctx context.Context) error {
	for _, query := range schema(db.Dialect) {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func schema(d Dialect) []string {
	id := "SERIAL PRIMARY KEY"
	ts := "TIMESTAMPTZ"
	if d == SQLite {
		id = "INTEGER PRIMARY KEY AUTOINCREMENT"
		ts = "TIMESTAMP"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS tracked_items (
			id ` + id + `,
			name TEXT NOT NULL DEFAULT '',
			site TEXT NOT NULL,
			product_url TEXT NOT NULL UNIQUE,
			target_price DECIMAL(12,2) NOT NULL,
			last_price DECIMAL(12,2),
			last_checked_at ` + ts + `,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			notified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at ` + ts + ` NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at ` + ts + ` NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			id ` + id + `,
			tracked_item_id INTEGER NOT NULL REFERENCES tracked_items(id) ON DELETE CASCADE,
			price DECIMAL(12,2),
			checked_at ` + ts + ` NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tracked_items_active ON tracked_items (active)`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_item ON price_history (tracked_item_id, checked_at)`,
	}
}
