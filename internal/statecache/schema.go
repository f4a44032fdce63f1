// Package statecache provides a SQLite-backed cache of folded item state
// with optional FTS5 full-text search.
//
// The repository on disk stays the source of truth; the cache only memoizes
// what enumerating and reducing each item would produce, keyed by a
// fingerprint of the item's generation layout so unchanged items are never
// re-folded.
package statecache

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS items (
	name             TEXT PRIMARY KEY,
	fingerprint      TEXT NOT NULL DEFAULT '',
	heads            TEXT NOT NULL DEFAULT '[]',
	record_count     INTEGER NOT NULL DEFAULT 0,
	generation_count INTEGER NOT NULL DEFAULT 0,
	remaining        TEXT NOT NULL DEFAULT '[]',
	state            TEXT NOT NULL DEFAULT '{}',
	title            TEXT NOT NULL DEFAULT '',
	tags             TEXT NOT NULL DEFAULT '[]',
	refs             TEXT NOT NULL DEFAULT '[]',
	updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_items_updated ON items(updated_at);
`

// DB wraps a sql.DB with cache-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("statecache: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("statecache: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("statecache: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("statecache: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
