package store

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the current cache schema version. A database with a
// different version is wiped and recreated; it only holds derived data.
const SchemaVersion = 1

// CreateSchema creates the cache tables if they don't exist.
func CreateSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
			return fmt.Errorf("recording schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("reading schema version: %w", err)
	case version != SchemaVersion:
		if _, err := db.Exec(`DROP TABLE IF EXISTS programs`); err != nil {
			return fmt.Errorf("dropping stale programs table: %w", err)
		}
		if _, err := db.Exec(`UPDATE schema_version SET version = ?`, SchemaVersion); err != nil {
			return fmt.Errorf("updating schema version: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		source_hash TEXT PRIMARY KEY,
		code_hash   TEXT NOT NULL,
		image       BLOB NOT NULL,
		created_at  INTEGER NOT NULL,
		hits        INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		return fmt.Errorf("creating programs table: %w", err)
	}
	return nil
}
