//go:build sqlite_fts5

package statecache

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(
			name UNINDEXED,
			title,
			tags,
			state,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, name, title, tags, state string) error {
	_, _ = tx.Exec(`DELETE FROM items_fts WHERE name = ?`, name)
	_, err := tx.Exec(`INSERT INTO items_fts (name, title, tags, state) VALUES (?, ?, ?, ?)`,
		name, title, tags, state)
	if err != nil {
		return fmt.Errorf("statecache: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, name string) {
	_, _ = tx.Exec(`DELETE FROM items_fts WHERE name = ?`, name)
}

// Search performs an FTS5 full-text search over title, tags, and folded
// state, and returns matching items with snippets. The negative snippet
// column auto-selects whichever column matched.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT name, title,
		       snippet(items_fts, -1, '<b>', '</b>', '...', 64)
		FROM items_fts
		WHERE items_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("statecache: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Name, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
