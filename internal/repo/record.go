package repo

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/linkpath"
)

// PrevDir is the reserved directory inside a record that holds one entry
// per parent record, named after the parent. Only the entry names
// participate in the record's content hash, so a parent marker may be a
// directory or a redirect without changing the record's address.
const PrevDir = ".prev"

// Record is an immutable, content-addressed node in an item's DAG. Its
// name is the encoded hash of its file tree, so identity and integrity are
// the same check.
type Record struct {
	repo   *Repository
	item   string
	name   string
	digest []byte
	path   string
}

// Name returns the record's encoded content hash.
func (r *Record) Name() string { return r.name }

// Digest returns the raw content hash the name encodes.
func (r *Record) Digest() []byte { return r.digest }

// Path returns the directory the record resolved to during enumeration.
func (r *Record) Path() string { return r.path }

// ItemName returns the name of the item the record was enumerated under.
func (r *Record) ItemName() string { return r.item }

// Files lists the record's regular files as sorted slash-separated paths
// relative to the record root. Parent markers under .prev are bookkeeping,
// not content, and are excluded.
func (r *Record) Files() ([]string, error) {
	var names []string
	err := filepath.WalkDir(r.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == r.path {
			return nil
		}
		rel, err := filepath.Rel(r.path, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == PrevDir && d.IsDir() {
			return filepath.SkipDir
		}
		if !d.IsDir() && d.Type().IsRegular() {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repo: list record %s: %w", r.name, err)
	}
	sort.Strings(names)
	return names, nil
}

// Read returns the content of one file inside the record.
func (r *Record) Read(name string) ([]byte, error) {
	if err := validateFileName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(r.path, filepath.FromSlash(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("repo: read %s from record %s: %w", name, r.name, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("repo: read %s from record %s: %w", name, r.name, err)
	}
	return data, nil
}

// Parents returns the names of the record's parents, read from the entry
// names under .prev. A record without a .prev directory has no parents.
func (r *Record) Parents() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.path, PrevDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repo: list parents of %s: %w", r.name, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Verify recomputes the record's content hash and compares it to the hash
// its name encodes.
func (r *Record) Verify() (bool, error) {
	digest, err := r.repo.hashRecordTree(r.path)
	if err != nil {
		return false, err
	}
	return bytes.Equal(digest, r.digest), nil
}

// hashRecordTree computes the content hash of a record directory.
//
// The walk is lexical, paths are slash-separated and relative to the record
// root, and every component is NUL-delimited so no file layout can collide
// with another:
//
//   - an entry directly under .prev contributes its relative path only; the
//     parent's name is the link, whatever stands at that entry is not part
//     of the record's content
//   - any other directory, .prev itself included, contributes its relative
//     path with a trailing slash
//   - a file contributes its relative path followed by its content
func (r *Repository) hashRecordTree(dir string) ([]byte, error) {
	h := r.hasher.New()
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, PrevDir+"/") {
			h.Write([]byte(rel))
			h.Write([]byte{0})
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			h.Write([]byte(rel))
			h.Write([]byte{'/', 0})
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		h.Write([]byte(rel))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repo: hash record tree: %w", err)
	}
	return h.Sum(nil), nil
}

// Record looks a single record up by name inside the item, resolving
// redirects and verifying the name decodes to a digest of the repository's
// hash size. It does not verify content; use Verify for that.
func (i *Item) Record(name string) (*Record, error) {
	digest, err := i.repo.enc.Decode(name)
	if err != nil || len(digest) != i.repo.hasher.Size() {
		return nil, fmt.Errorf("repo: record %q in item %q: %w", name, i.name, apperr.ErrNotFound)
	}
	cur, err := i.repo.Item(i.name)
	if err != nil {
		return nil, err
	}
	entry := filepath.Join(cur.path, name)
	if filepath.Dir(entry) != cur.path || filepath.Base(entry) != name {
		return nil, fmt.Errorf("repo: record %q in item %q: %w", name, i.name, apperr.ErrNotFound)
	}
	if _, err := os.Lstat(entry); err != nil {
		return nil, fmt.Errorf("repo: record %q in item %q: %w", name, i.name, apperr.ErrNotFound)
	}
	recPath, err := linkpath.Resolve(entry)
	if err != nil {
		recPath = entry
	}
	return &Record{repo: i.repo, item: i.name, name: name, digest: digest, path: recPath}, nil
}
