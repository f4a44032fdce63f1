package repo

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/othala/internal/linkpath"
)

// GenerationIter walks an item's record DAG in causal layers. Each call to
// Next returns one generation: every record whose parents have all appeared
// in earlier generations. Records with no parents form the first
// generation, their children the second, and so on.
//
// The iterator holds a working set of directory entry names seeded from one
// listing of the item. On every pass it re-resolves the item by name, so an
// item relocated behind a redirect mid-iteration keeps enumerating from its
// new home.
type GenerationIter struct {
	repo      *Repository
	item      string
	integrity bool
	waiting   []string
	stalled   []string
	done      bool
}

// Next returns the next generation of records, or nil when iteration is
// finished.
//
// Entries that cannot be resolved to a directory or whose name does not
// decode to a digest of the repository's hash size are never yielded and
// never leave the working set; any record naming one of them as a parent
// stays unreached. A record that fails integrity verification leaves the
// working set without being yielded, so its descendants still surface in
// later generations. A pass that moves nothing out of the working set means
// the remainder is unreachable; iteration stops and the leftovers are
// available from Remaining.
func (g *GenerationIter) Next() []*Record {
	for {
		if g.done {
			return nil
		}
		if len(g.waiting) == 0 {
			g.done = true
			return nil
		}
		cur, err := g.repo.Item(g.item)
		if err != nil {
			g.done = true
			return nil
		}

		// Eligibility is judged against the working set as it stood when
		// the pass began: records becoming eligible together land in the
		// same generation, and their children wait for the next one.
		pending := make(map[string]bool, len(g.waiting))
		for _, name := range g.waiting {
			pending[name] = true
		}

		var out []*Record
		moved := make(map[string]bool, len(g.waiting))
		for _, name := range g.waiting {
			entry := filepath.Join(cur.path, name)
			dir, err := linkpath.Resolve(entry)
			if err != nil {
				continue
			}
			digest, err := g.repo.enc.Decode(name)
			if err != nil || len(digest) != g.repo.hasher.Size() {
				continue
			}
			if hasPendingParent(dir, pending) {
				continue
			}
			moved[name] = true
			if g.integrity {
				sum, err := g.repo.hashRecordTree(dir)
				if err != nil || !bytes.Equal(sum, digest) {
					continue
				}
			}
			out = append(out, &Record{repo: g.repo, item: g.item, name: name, digest: digest, path: dir})
		}

		if len(moved) == 0 {
			for _, name := range g.waiting {
				if strings.HasPrefix(name, StagePrefix) {
					continue
				}
				g.stalled = append(g.stalled, name)
			}
			g.done = true
			return nil
		}

		remain := g.waiting[:0]
		for _, name := range g.waiting {
			if !moved[name] {
				remain = append(remain, name)
			}
		}
		g.waiting = remain

		if len(out) > 0 {
			return out
		}
		// Every eligible record this pass failed verification. Keep going
		// rather than yield an empty generation.
	}
}

// Remaining returns the entry names still in the working set after Next
// returned nil without draining it: unresolvable entries, foreign files,
// and every record stranded behind them. Staging directories left by
// in-flight writers are not reported. It returns nil while iteration is
// still in progress and after a complete walk.
func (g *GenerationIter) Remaining() []string {
	return append([]string(nil), g.stalled...)
}

// hasPendingParent reports whether any entry name under the record's .prev
// directory is still in the working set. Parent names that are not in the
// set do not block, whether already yielded or unknown to the item.
func hasPendingParent(dir string, pending map[string]bool) bool {
	entries, err := os.ReadDir(filepath.Join(dir, PrevDir))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if pending[e.Name()] {
			return true
		}
	}
	return false
}
