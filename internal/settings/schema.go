// Package settings is the process-wide settings store: scalar settings plus
// namespaced, document-keyed records, persisted in SQLite.
package settings

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a sql.DB with settings-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and migrates it to the latest schema.
func Open(dsn string) (*DB, error) {
	if err := migrateUp(dsn); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("settings: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("settings: ping: %w", err)
	}
	return &DB{conn: conn}, nil
}

// migrateUp applies pending schema migrations on a dedicated connection;
// the sqlite3 migrate driver closes its connection when done.
func migrateUp(dsn string) error {
	conn, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("settings: open migration db: %w", err)
	}
	driver, err := sqlite3.WithInstance(conn, &sqlite3.Config{})
	if err != nil {
		conn.Close()
		return fmt.Errorf("settings: migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		driver.Close()
		return fmt.Errorf("settings: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		driver.Close()
		return fmt.Errorf("settings: migrate instance: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("settings: apply schema: %w", err)
	}
	return nil
}

// Flush forces the WAL into the main database file.
func (db *DB) Flush() error {
	if _, err := db.conn.Exec(`PRAGMA wal_checkpoint(FULL)`); err != nil {
		return fmt.Errorf("settings: flush: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
