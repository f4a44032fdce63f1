// Package repo implements the record store: a repository of uniquely-named
// items, each holding a DAG of immutable, content-addressed records on the
// local filesystem. Items and records may be represented either as real
// directories or as redirect files, so their physical location can change
// without changing the name they are known by.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/hashenc"
	"github.com/starford/othala/internal/linkpath"
	pkgconfig "github.com/starford/othala/pkg/config"
)

const (
	itemsDir   = "items"
	modulesDir = "modules"
)

// Repository owns the storage root. The items namespace is always the
// direct subdirectory "items" of the root; it never moves during a session.
type Repository struct {
	root      string
	itemsPath string
	cfg       Config
	hasher    checksum.Hasher
	enc       hashenc.Encoding
}

// Open opens an existing repository rooted at root. The repository config is
// read and validated, and the configured hash and encoding are resolved.
func Open(root string) (*Repository, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("repo: resolve root: %w", err)
	}
	var cfg Config
	if err := pkgconfig.Load(filepath.Join(abs, ConfigFile), &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("repo: open %s: %w", abs, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("repo: open %s: %w", abs, err)
	}
	return newRepository(abs, cfg)
}

// Init creates a new repository at root with the given config and returns it.
// The root directory is created if missing. A root that already holds a
// repository config fails with ErrAlreadyExists.
func Init(root string, cfg Config) (*Repository, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("repo: resolve root: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("repo: init config: %w", err)
	}
	cfgPath := filepath.Join(abs, ConfigFile)
	if _, err := os.Lstat(cfgPath); err == nil {
		return nil, fmt.Errorf("repo: init %s: %w", abs, apperr.ErrAlreadyExists)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("repo: create root: %w", err)
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("repo: marshal config: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("repo: write config: %w", err)
	}
	return newRepository(abs, cfg)
}

func newRepository(root string, cfg Config) (*Repository, error) {
	hasher, err := checksum.ForName(cfg.Hash)
	if err != nil {
		return nil, fmt.Errorf("repo: %w", err)
	}
	enc, err := hashenc.ForName(cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("repo: %w", err)
	}
	r := &Repository{
		root:      root,
		itemsPath: filepath.Join(root, itemsDir),
		cfg:       cfg,
		hasher:    hasher,
		enc:       enc,
	}
	if err := os.MkdirAll(r.itemsPath, 0o755); err != nil {
		return nil, fmt.Errorf("repo: create items namespace: %w", err)
	}
	return r, nil
}

// Root returns the absolute repository root path.
func (r *Repository) Root() string { return r.root }

// ItemsPath returns the absolute path of the items namespace.
func (r *Repository) ItemsPath() string { return r.itemsPath }

// Hasher returns the configured content hash algorithm.
func (r *Repository) Hasher() checksum.Hasher { return r.hasher }

// Encoding returns the configured name encoding.
func (r *Repository) Encoding() hashenc.Encoding { return r.enc }

// Config returns the repository configuration.
func (r *Repository) Config() Config { return r.cfg }

// namespaceEntry validates that name addresses a direct child of the items
// namespace and returns the unresolved entry path. Names with embedded
// separators or traversal components do not address any item.
func (r *Repository) namespaceEntry(name string) (string, error) {
	entry := filepath.Join(r.itemsPath, name)
	if filepath.Dir(entry) != r.itemsPath || filepath.Base(entry) != name {
		return "", fmt.Errorf("repo: item %q: %w", name, apperr.ErrNotFound)
	}
	return entry, nil
}

// Item looks up an item by name. The unresolved entry must exist inside the
// items namespace; the entry is then resolved through any redirects. When
// resolution fails (for example a dangling redirect) the item is still
// returned with its unresolved path, since the identity exists even if its
// content is currently unreachable. Absent or namespace-escaping names
// return ErrNotFound.
func (r *Repository) Item(name string) (*Item, error) {
	entry, err := r.namespaceEntry(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(entry); err != nil {
		return nil, fmt.Errorf("repo: item %q: %w", name, apperr.ErrNotFound)
	}
	path, err := linkpath.Resolve(entry)
	if err != nil {
		path = entry
	}
	return &Item{repo: r, name: name, path: path, integrity: r.cfg.IntegrityCheck}, nil
}

// NewItem creates a fresh item under a newly allocated unique name and
// returns it. The item is a real directory, never a redirect.
func (r *Repository) NewItem() (*Item, error) {
	return r.NewNamedItem(uuid.New().String())
}

// NewNamedItem creates an item under a caller-chosen name. The name is
// validated against the namespace the same way lookups are; an existing
// entry under that name fails with ErrAlreadyExists.
func (r *Repository) NewNamedItem(name string) (*Item, error) {
	entry, err := r.namespaceEntry(name)
	if err != nil {
		return nil, err
	}
	if err := os.Mkdir(entry, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("repo: item %q: %w", name, apperr.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("repo: create item %q: %w", name, err)
	}
	return &Item{repo: r, name: name, path: entry, integrity: r.cfg.IntegrityCheck}, nil
}

// Items lists the namespace once and returns an iterator over its items.
func (r *Repository) Items() (*ItemIter, error) {
	entries, err := os.ReadDir(r.itemsPath)
	if err != nil {
		return nil, fmt.Errorf("repo: list items: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return &ItemIter{repo: r, names: names}, nil
}

// ItemIter iterates over the items found by a single namespace listing.
// It is finite and not restartable.
type ItemIter struct {
	repo  *Repository
	names []string
	pos   int
}

// Next returns the next item, or false when the listing is exhausted.
// Each entry resolves through redirects, falling back to its unresolved
// path; the yielded item carries the original entry name as identity.
// Entries that vanished since the listing are skipped.
func (it *ItemIter) Next() (*Item, bool) {
	for it.pos < len(it.names) {
		name := it.names[it.pos]
		it.pos++
		entry := filepath.Join(it.repo.itemsPath, name)
		if _, err := os.Lstat(entry); err != nil {
			continue
		}
		path, err := linkpath.Resolve(entry)
		if err != nil {
			path = entry
		}
		return &Item{repo: it.repo, name: name, path: path, integrity: it.repo.cfg.IntegrityCheck}, true
	}
	return nil, false
}

// RelocateItem moves the item's storage directory to dest and leaves a
// redirect file in its place, so the item answers to the same name from a
// new location. Relocating an already relocated item moves the directory at
// the end of the redirect chain and extends the chain by one hop.
func (r *Repository) RelocateItem(name, dest string) error {
	entry, err := r.namespaceEntry(name)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(entry); err != nil {
		return fmt.Errorf("repo: item %q: %w", name, apperr.ErrNotFound)
	}
	dir, err := linkpath.Resolve(entry)
	if err != nil {
		return fmt.Errorf("repo: resolve item %q: %w", name, err)
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("repo: relocate item %q: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("repo: relocate item %q: %w", name, err)
	}
	if err := linkpath.Relocate(dir, abs); err != nil {
		return fmt.Errorf("repo: relocate item %q: %w", name, err)
	}
	return nil
}

// Modules resolves the repository's module sources: each entry under the
// modules directory is either a directory or a redirect file, resolved the
// same way items are. Entries that do not resolve are skipped. A repository
// without a modules directory has no modules.
func (r *Repository) Modules() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, modulesDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("repo: list modules: %w", err)
	}
	var out []string
	for _, e := range entries {
		path, err := linkpath.Resolve(filepath.Join(r.root, modulesDir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, path)
	}
	return out, nil
}
