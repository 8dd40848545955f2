package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// RunMigrations executes all database migrations
func RunMigrations(db *DB) error {
	// Check if schema_version table exists
	var tableExists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}

	if !tableExists {
		// First time initialization
		if err := initializeSchema(db); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		return nil
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow(`
		SELECT version FROM schema_version
		ORDER BY applied_at DESC LIMIT 1
	`).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// Currently only version 1 exists
	if currentVersion != schemaVersion {
		return fmt.Errorf("unsupported schema version: %d", currentVersion)
	}

	return nil
}

// initializeSchema creates all tables for a new database
func initializeSchema(db *DB) error {
	tx, err := db.BeginTx(context.Background())
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		schemaVersionTable,
		accountsTable,
		accountsIndexes,
		authEventsTable,
		authEventsIndexes,
	} {
		if err := execSQL(tx, stmt); err != nil {
			return err
		}
	}

	// Insert initial schema version
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}

// execSQL executes a SQL statement
func execSQL(tx *sqlx.Tx, query string) error {
	if _, err := tx.Exec(query); err != nil {
		return fmt.Errorf("failed to execute schema statement: %w", err)
	}
	return nil
}

const schemaVersion = 1

// Schema definitions
const (
	schemaVersionTable = `
CREATE TABLE schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	accountsTable = `
CREATE TABLE accounts (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    handle             TEXT NOT NULL UNIQUE,
    email              TEXT NOT NULL UNIQUE,
    password_hash      TEXT NOT NULL,
    totp_secret        TEXT NOT NULL,
    fallback_code_hash TEXT,
    role               TEXT NOT NULL CHECK (role IN ('consumer', 'engineer', 'admin')),
    failed_attempts    INTEGER NOT NULL DEFAULT 0 CHECK (failed_attempts >= 0),
    locked_until       DATETIME,
    created_at         DATETIME NOT NULL,
    updated_at         DATETIME NOT NULL
)`

	accountsIndexes = `
CREATE INDEX idx_accounts_role ON accounts(role)`

	authEventsTable = `
CREATE TABLE auth_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id  INTEGER,
    handle      TEXT NOT NULL,
    kind        TEXT NOT NULL,
    source_addr TEXT NOT NULL,
    user_agent  TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,

    FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE SET NULL
)`

	authEventsIndexes = `
CREATE INDEX idx_events_account_id ON auth_events(account_id, kind, created_at DESC);
CREATE INDEX idx_events_created_at ON auth_events(created_at DESC)`
)
