package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Setting keys.
const (
	KeyStorageVersion      = "storage_version"
	KeyMigrationInProgress = "migration_in_progress"
)

// GetInt returns the integer stored under key, or def when unset.
func (db *DB) GetInt(key string, def int) (int, error) {
	raw, ok, err := db.get(key)
	if err != nil || !ok {
		return def, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("settings: %s is not an integer: %w", key, err)
	}
	return n, nil
}

// SetInt stores an integer under key.
func (db *DB) SetInt(key string, v int) error {
	return db.set(key, strconv.Itoa(v))
}

// GetBool returns the boolean stored under key, or false when unset.
func (db *DB) GetBool(key string) (bool, error) {
	raw, ok, err := db.get(key)
	if err != nil || !ok {
		return false, err
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("settings: %s is not a boolean: %w", key, err)
	}
	return b, nil
}

// SetBool stores a boolean under key.
func (db *DB) SetBool(key string, v bool) error {
	return db.set(key, strconv.FormatBool(v))
}

// Delete removes key.
func (db *DB) Delete(key string) error {
	if _, err := db.conn.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("settings: delete %s: %w", key, err)
	}
	return nil
}

func (db *DB) get(key string) (string, bool, error) {
	var v string
	err := db.conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("settings: get %s: %w", key, err)
	}
	return v, true, nil
}

func (db *DB) set(key, value string) error {
	_, err := db.conn.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}
