package repo

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/linkpath"
)

// Item is a named container for a DAG of records. Its identity is the name
// it was looked up or enumerated under; its path is wherever that name
// currently resolves to, possibly through redirects. Item values borrow
// their Repository and are cheap to copy.
type Item struct {
	repo      *Repository
	name      string
	path      string
	integrity bool
}

// Name returns the item's identity: the namespace entry name it is known by.
func (i *Item) Name() string { return i.name }

// Path returns the directory the item's name resolved to when the Item was
// obtained. Enumeration re-resolves the name on every step, so a stale path
// here never misdirects record discovery.
func (i *Item) Path() string { return i.path }

// Repository returns the repository the item belongs to.
func (i *Item) Repository() *Repository { return i.repo }

// IntegrityCheck reports whether record enumeration verifies content
// hashes for this Item value.
func (i *Item) IntegrityCheck() bool { return i.integrity }

// WithIntegrityCheck returns a copy of the item with integrity checking set
// to enabled. The receiver is left untouched, so Item values can be shared
// across concurrent enumerations.
func (i *Item) WithIntegrityCheck(enabled bool) *Item {
	c := *i
	c.integrity = enabled
	return &c
}

// Records returns a generation iterator over the item's record DAG, seeded
// by re-resolving the item by identity and listing its directory once.
func (i *Item) Records() *GenerationIter {
	it := &GenerationIter{repo: i.repo, item: i.name, integrity: i.integrity}
	cur, err := i.repo.Item(i.name)
	if err != nil {
		it.done = true
		return it
	}
	entries, err := os.ReadDir(cur.path)
	if err != nil {
		it.done = true
		return it
	}
	for _, e := range entries {
		it.waiting = append(it.waiting, e.Name())
	}
	return it
}

// Heads returns the records of the latest generation: the current tips new
// records link to as parents. An item with no records has no heads.
func (i *Item) Heads() []*Record {
	var heads []*Record
	it := i.Records()
	for gen := it.Next(); gen != nil; gen = it.Next() {
		heads = gen
	}
	return heads
}

// StagePrefix is the name prefix of in-progress record staging directories.
// Entries carrying it are construction debris, never records.
const StagePrefix = ".stage-"

// NewRecord creates a content-addressed record in the item from the given
// file set (relative slash-separated name to content). When linkHeads is
// set, a .prev entry is created for every record in the current latest
// generation, recording causal parentage.
//
// The record is staged in a temporary directory inside the item, hashed,
// and renamed to its encoded digest in one step, so a record directory is
// complete the moment it becomes visible under its final name. Creating a
// record whose content already exists returns the existing record.
func (i *Item) NewRecord(files map[string][]byte, linkHeads bool) (*Record, error) {
	for name := range files {
		if err := validateFileName(name); err != nil {
			return nil, err
		}
	}

	// Resolution is strict during creation: a dangling item redirect is an
	// error here, not a lookup miss.
	entry, err := i.repo.namespaceEntry(i.name)
	if err != nil {
		return nil, err
	}
	itemPath, err := linkpath.Resolve(entry)
	if err != nil {
		return nil, fmt.Errorf("repo: resolve item %q: %w", i.name, err)
	}

	var parents []string
	if linkHeads {
		for _, head := range i.Heads() {
			parents = append(parents, head.Name())
		}
	}

	stage, err := os.MkdirTemp(itemPath, StagePrefix)
	if err != nil {
		return nil, fmt.Errorf("repo: create staging dir: %w", err)
	}
	success := false
	defer func() {
		if !success {
			_ = os.RemoveAll(stage)
		}
	}()

	for name, data := range files {
		if err := writeRecordFile(stage, name, data); err != nil {
			return nil, err
		}
	}
	for _, parent := range parents {
		if err := os.MkdirAll(filepath.Join(stage, PrevDir, parent), 0o755); err != nil {
			return nil, fmt.Errorf("repo: write parent marker %s: %w", parent, err)
		}
	}

	digest, err := i.repo.hashRecordTree(stage)
	if err != nil {
		return nil, err
	}
	name := i.repo.enc.Encode(digest)
	final := filepath.Join(itemPath, name)

	if _, err := os.Lstat(final); err == nil {
		// Same content, same address: the record already exists.
		success = true
		_ = os.RemoveAll(stage)
		recPath := final
		if resolved, err := linkpath.Resolve(final); err == nil {
			recPath = resolved
		}
		return &Record{repo: i.repo, item: i.name, name: name, digest: digest, path: recPath}, nil
	}
	if err := os.Rename(stage, final); err != nil {
		return nil, fmt.Errorf("repo: publish record %s: %w", name, err)
	}
	success = true
	return &Record{repo: i.repo, item: i.name, name: name, digest: digest, path: final}, nil
}

// validateFileName rejects record file names that are absolute, escape the
// record directory, are not in canonical slash form, or claim the reserved
// parent-marker directory.
func validateFileName(name string) error {
	cleaned := path.Clean(name)
	if name == "" || cleaned != name || path.IsAbs(cleaned) ||
		cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") ||
		cleaned == PrevDir || strings.HasPrefix(cleaned, PrevDir+"/") {
		return fmt.Errorf("repo: record file name %q: %w", name, apperr.ErrInvalid)
	}
	return nil
}

// writeRecordFile writes one staged file: tmp content is synced to disk
// before the staging directory is published by rename.
func writeRecordFile(stage, name string, data []byte) error {
	abs := filepath.Join(stage, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("repo: mkdir for %s: %w", name, err)
	}
	f, err := os.Create(abs)
	if err != nil {
		return fmt.Errorf("repo: create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("repo: write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("repo: fsync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("repo: close %s: %w", name, err)
	}
	return nil
}
