// Package database provides the PostgreSQL connection pool and migration
// runner backing the Registry's and Security plane's durable state (SPEC_FULL.md §3.2, §3.4).
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps a pooled *sql.DB. Components issue plain SQL through it
// (pgx's stdlib driver, no ORM) rather than against a generated client.
type Client struct {
	db *sql.DB
}

// DB returns the underlying pool for direct queries and health checks.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close releases the pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// NewClient opens a connection pool, runs pending migrations, and returns a
// ready client. Migration failures are fatal to startup: every component
// that reads registry_records, security_events, or incidents assumes the
// schema is current.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := CreateGINIndexes(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create GIN indexes: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientFromPool wraps an already-open pool, skipping migrations. Used by
// tests that seed schema themselves (or that stub the pool with sqlmock).
func NewClientFromPool(db *sql.DB) *Client {
	return &Client{db: db}
}

// runMigrations applies every pending embedded migration using
// golang-migrate. Migration files live under migrations/ as
// NNNNNN_name.{up,down}.sql and are compiled into the binary, so a deployed
// binary never depends on an external migrations directory.
func runMigrations(db *sql.DB, databaseName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// connMaxLifetimeDefault and connMaxIdleTimeDefault are pool timing
// defaults. FromAppConfig always sets ConnMaxIdleTime to
// connMaxIdleTimeDefault; connMaxLifetimeDefault is not applied anywhere,
// and Config.Validate checks neither value.
const (
	connMaxLifetimeDefault = time.Hour
	connMaxIdleTimeDefault = 15 * time.Minute
)
