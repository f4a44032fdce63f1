// Package testutil provides shared test helpers for setting up repositories
// and state caches.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/othala/internal/repo"
	"github.com/starford/othala/internal/statecache"
)

// TestDB creates a temporary SQLite state cache that is automatically
// cleaned up.
func TestDB(t *testing.T) *statecache.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "othala-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := statecache.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRepo initializes a repository with the default config in a temporary
// directory.
func TestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	rep, err := repo.Init(t.TempDir(), repo.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return rep
}
