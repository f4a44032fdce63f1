// Package linkpath resolves filesystem entries that may be either real
// directories or redirect files.
//
// A redirect is a plain-text file standing in for a directory: its content is
// a single relative path (forward-slash separators, surrounding whitespace
// ignored) interpreted relative to the redirect file's own containing
// directory. Redirects serve the same purpose as symbolic links on
// filesystems that lack them, so identity (an entry's name) and physical
// location (its content) can diverge.
package linkpath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxHops bounds how many redirects a single resolution will follow.
// Chains longer than this (including cycles) fail instead of looping.
const MaxHops = 40

// Resolve follows path until it designates a real directory and returns that
// directory. A path that already is a directory resolves to itself. A file is
// read as a redirect: its trimmed content is joined against the file's parent
// directory and resolution continues from there.
//
// Missing entries, unreadable redirects, and chains longer than MaxHops all
// surface as errors; callers decide whether a missing target is fatal.
func Resolve(path string) (string, error) {
	for hops := 0; ; hops++ {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("linkpath: stat %s: %w", path, err)
		}
		if info.IsDir() {
			return path, nil
		}
		if hops >= MaxHops {
			return "", fmt.Errorf("linkpath: too many redirects resolving %s", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("linkpath: read redirect %s: %w", path, err)
		}
		target := filepath.FromSlash(strings.TrimSpace(string(data)))
		path = filepath.Join(filepath.Dir(path), target)
	}
}

// IsRedirect reports whether path currently exists as a redirect file rather
// than a directory. It does not validate the redirect's target.
func IsRedirect(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode().IsRegular()
}

// Relocate moves the directory at path to dest and leaves a redirect file in
// its place pointing at dest. dest is stored relative to path's parent
// directory with forward-slash separators, so the pair can be moved together.
func Relocate(path, dest string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("linkpath: stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("linkpath: relocate %s: not a directory", path)
	}
	rel, err := filepath.Rel(filepath.Dir(path), dest)
	if err != nil {
		return fmt.Errorf("linkpath: relativize %s: %w", dest, err)
	}
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("linkpath: move %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(filepath.ToSlash(rel)), 0o644); err != nil {
		return fmt.Errorf("linkpath: write redirect %s: %w", path, err)
	}
	return nil
}
