package settings

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetRecord returns the raw record for (namespace, path).
func (db *DB) GetRecord(namespace, path string) ([]byte, bool, error) {
	var rec string
	err := db.conn.QueryRow(`SELECT record FROM path_records WHERE namespace = ? AND path = ?`,
		namespace, path).Scan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("settings: get record: %w", err)
	}
	return []byte(rec), true, nil
}

// PutRecord inserts or replaces the record for (namespace, path).
func (db *DB) PutRecord(namespace, path string, record []byte) error {
	_, err := db.conn.Exec(`
		INSERT INTO path_records (namespace, path, record, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(namespace, path) DO UPDATE SET
			record     = excluded.record,
			updated_at = excluded.updated_at
	`, namespace, path, string(record))
	if err != nil {
		return fmt.Errorf("settings: put record: %w", err)
	}
	return nil
}

// DeleteRecord removes the record for (namespace, path), if any.
func (db *DB) DeleteRecord(namespace, path string) error {
	if _, err := db.conn.Exec(`DELETE FROM path_records WHERE namespace = ? AND path = ?`,
		namespace, path); err != nil {
		return fmt.Errorf("settings: delete record: %w", err)
	}
	return nil
}

// RekeyRecord moves the record stored under oldPath to newPath in a single
// transaction. It reports false when oldPath has no record. Any record
// already stored under newPath is replaced.
func (db *DB) RekeyRecord(namespace, oldPath, newPath string) (bool, error) {
	if oldPath == newPath {
		return false, nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return false, fmt.Errorf("settings: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var rec string
	err = tx.QueryRow(`SELECT record FROM path_records WHERE namespace = ? AND path = ?`,
		namespace, oldPath).Scan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("settings: rekey lookup: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM path_records WHERE namespace = ? AND path = ?`,
		namespace, newPath); err != nil {
		return false, fmt.Errorf("settings: rekey clear target: %w", err)
	}
	if _, err := tx.Exec(`UPDATE path_records SET path = ?, updated_at = CURRENT_TIMESTAMP
		WHERE namespace = ? AND path = ?`, newPath, namespace, oldPath); err != nil {
		return false, fmt.Errorf("settings: rekey: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("settings: rekey commit: %w", err)
	}
	return true, nil
}

// RecordPaths returns every path with a record in namespace.
func (db *DB) RecordPaths(namespace string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT path FROM path_records WHERE namespace = ? ORDER BY path`, namespace)
	if err != nil {
		return nil, fmt.Errorf("settings: record paths: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
