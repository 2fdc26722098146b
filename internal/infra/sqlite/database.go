/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// queryer is satisfied by both *sql.DB and *sql.Tx, so repositories can run inside a transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Connection parameters understood by go-sqlite3, applied to every pooled connection.
// Transactions begin IMMEDIATE: a read-then-write transaction takes the write lock up front.
const dsnParams = "_txlock=immediate&_busy_timeout=5000&_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL"

// dataSourceName appends the connection parameters to dbPath.
func dataSourceName(dbPath string) string {
	if strings.Contains(dbPath, "?") {
		return dbPath + "&" + dsnParams
	}
	return dbPath + "?" + dsnParams
}

// InitDB initializes the SQLite database and creates necessary tables.
func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" opens a distinct database, so tests must share one connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	// Verify the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Create tables and indexes
	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// createSchema creates all necessary database tables.
func createSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	-- Enable foreign keys
	PRAGMA foreign_keys = ON;

	-- Targets (devices) table
	CREATE TABLE IF NOT EXISTS targets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant TEXT NOT NULL,
		controller_id TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		update_status TEXT NOT NULL DEFAULT 'UNKNOWN',
		last_target_query TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- A controller id is unique within its tenant
	CREATE UNIQUE INDEX IF NOT EXISTS uniq_targets_tenant_controller_id ON targets(tenant, controller_id);

	-- Controller attributes reported by the device
	CREATE TABLE IF NOT EXISTS target_attributes (
		target_id INTEGER NOT NULL,
		attr_key TEXT NOT NULL,
		attr_value TEXT NOT NULL,
		PRIMARY KEY (target_id, attr_key),
		-- table constraints (placed after column definitions for compatibility)
		FOREIGN KEY (target_id) REFERENCES targets(id) ON DELETE CASCADE
	);

	-- Distribution sets table
	CREATE TABLE IF NOT EXISTS distribution_sets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant TEXT NOT NULL,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS uniq_distribution_sets_tenant_name_version ON distribution_sets(tenant, name, version);

	-- Software modules belonging to a distribution set
	CREATE TABLE IF NOT EXISTS software_modules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		distribution_set_id INTEGER NOT NULL,
		module_type TEXT NOT NULL,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		-- table constraints (placed after column definitions for compatibility)
		FOREIGN KEY (distribution_set_id) REFERENCES distribution_sets(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_software_modules_distribution_set_id ON software_modules(distribution_set_id);

	-- Actions table
	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant TEXT NOT NULL,
		target_id INTEGER NOT NULL,
		distribution_set_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		-- table constraints (placed after column definitions for compatibility)
		FOREIGN KEY (target_id) REFERENCES targets(id) ON DELETE CASCADE,
		FOREIGN KEY (distribution_set_id) REFERENCES distribution_sets(id)
	);

	-- Expecting queries for the oldest active action of a target
	CREATE INDEX IF NOT EXISTS idx_actions_target_id_active ON actions(target_id, active, id);

	-- Append-only status history; messages are stored as a CBOR array of text strings
	CREATE TABLE IF NOT EXISTS action_statuses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		messages BLOB,
		occurred_at TIMESTAMP NOT NULL,
		-- table constraints (placed after column definitions for compatibility)
		FOREIGN KEY (action_id) REFERENCES actions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_action_statuses_action_id ON action_statuses(action_id);
	`

	// Execute schema using transaction
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CloseDB closes the database connection.
func CloseDB(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// withTx runs fn inside a transaction and commits when fn returns nil.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
