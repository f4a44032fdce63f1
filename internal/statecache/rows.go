package statecache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ItemRow represents a row in the items table. Heads, Remaining, Tags, and
// Refs are stored as JSON arrays, State as the reducer's JSON output. Title,
// Tags, and Refs are display metadata derived from the folded file set.
type ItemRow struct {
	Name            string
	Fingerprint     string
	Heads           []string
	RecordCount     int
	GenerationCount int
	Remaining       []string
	State           string
	Title           string
	Tags            []string
	Refs            []string
	UpdatedAt       time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// UpsertItem inserts or replaces an item row and its FTS entry within a
// transaction.
func (db *DB) UpsertItem(row ItemRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("statecache: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	headsJSON, _ := json.Marshal(emptyIfNil(row.Heads))
	remainingJSON, _ := json.Marshal(emptyIfNil(row.Remaining))
	tagsJSON, _ := json.Marshal(emptyIfNil(row.Tags))
	refsJSON, _ := json.Marshal(emptyIfNil(row.Refs))
	state := row.State
	if state == "" {
		state = "{}"
	}

	_, err = tx.Exec(`
		INSERT INTO items (name, fingerprint, heads, record_count, generation_count, remaining, state, title, tags, refs, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			fingerprint      = excluded.fingerprint,
			heads            = excluded.heads,
			record_count     = excluded.record_count,
			generation_count = excluded.generation_count,
			remaining        = excluded.remaining,
			state            = excluded.state,
			title            = excluded.title,
			tags             = excluded.tags,
			refs             = excluded.refs,
			updated_at       = excluded.updated_at
	`, row.Name, row.Fingerprint, string(headsJSON), row.RecordCount, row.GenerationCount,
		string(remainingJSON), state, row.Title, string(tagsJSON), string(refsJSON), row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("statecache: upsert item: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, row.Name, row.Title, string(tagsJSON), state); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteItem removes an item row and its FTS entry.
func (db *DB) DeleteItem(name string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("statecache: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, name)
	_, _ = tx.Exec(`DELETE FROM items WHERE name = ?`, name)

	return tx.Commit()
}

// GetItem returns the cached row for one item, or nil when the item has
// never been cached.
func (db *DB) GetItem(name string) (*ItemRow, error) {
	row := db.conn.QueryRow(`
		SELECT name, fingerprint, heads, record_count, generation_count, remaining, state, title, tags, refs, updated_at
		FROM items WHERE name = ?
	`, name)
	out, err := scanItemRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("statecache: get item: %w", err)
	}
	return out, nil
}

// ListItems returns a page of cached rows plus the total row count. sort is
// "name" for lexical order or "updated" for most recently changed first.
func (db *DB) ListItems(limit, offset int, sort string) ([]ItemRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	order := "name ASC"
	if sort == "updated" {
		order = "updated_at DESC, name ASC"
	}

	var total int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("statecache: count items: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT name, fingerprint, heads, record_count, generation_count, remaining, state, title, tags, refs, updated_at
		FROM items ORDER BY `+order+` LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("statecache: list items: %w", err)
	}
	defer rows.Close()

	var out []ItemRow
	for rows.Next() {
		r, err := scanItemRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// GetFingerprint returns the stored fingerprint for an item, or empty
// string if not cached.
func (db *DB) GetFingerprint(name string) (string, error) {
	var fp string
	err := db.conn.QueryRow(`SELECT fingerprint FROM items WHERE name = ?`, name).Scan(&fp)
	if err != nil {
		return "", nil // not found is fine
	}
	return fp, nil
}

// AllFingerprints returns every cached item name with its fingerprint.
func (db *DB) AllFingerprints() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT name, fingerprint FROM items`)
	if err != nil {
		return nil, fmt.Errorf("statecache: all fingerprints: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name, fp string
		if err := rows.Scan(&name, &fp); err != nil {
			return nil, err
		}
		out[name] = fp
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItemRow(s rowScanner) (*ItemRow, error) {
	var r ItemRow
	var headsJSON, remainingJSON, tagsJSON, refsJSON string
	if err := s.Scan(&r.Name, &r.Fingerprint, &headsJSON, &r.RecordCount,
		&r.GenerationCount, &remainingJSON, &r.State, &r.Title, &tagsJSON,
		&refsJSON, &r.UpdatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(headsJSON), &r.Heads)
	_ = json.Unmarshal([]byte(remainingJSON), &r.Remaining)
	_ = json.Unmarshal([]byte(tagsJSON), &r.Tags)
	_ = json.Unmarshal([]byte(refsJSON), &r.Refs)
	return &r, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
