package statecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/starford/othala/internal/reducer"
	"github.com/starford/othala/internal/repo"
	"github.com/starford/othala/internal/summary"
)

// layout is one enumeration pass over an item: the generation structure by
// record name, plus whatever the walk could not reach.
type layout struct {
	gens      [][]string
	remaining []string
	records   int
}

func itemLayout(item *repo.Item) layout {
	var l layout
	it := item.Records()
	for gen := it.Next(); gen != nil; gen = it.Next() {
		names := make([]string, 0, len(gen))
		for _, rec := range gen {
			names = append(names, rec.Name())
		}
		l.records += len(names)
		l.gens = append(l.gens, names)
	}
	l.remaining = it.Remaining()
	sort.Strings(l.remaining)
	return l
}

// fingerprint condenses a layout into one encoded digest. Any change to the
// generation structure, to record membership, or to the unreachable
// remainder changes the fingerprint.
func fingerprint(rep *repo.Repository, l layout) string {
	h := rep.Hasher().New()
	for _, gen := range l.gens {
		for _, name := range gen {
			h.Write([]byte(name))
			h.Write([]byte{0})
		}
		h.Write([]byte{'\n'})
	}
	h.Write([]byte{0})
	for _, name := range l.remaining {
		h.Write([]byte(name))
		h.Write([]byte{0})
	}
	return rep.Encoding().Encode(h.Sum(nil))
}

// Refresh brings one item's cached row up to date. The item is enumerated
// once to fingerprint its generation layout; when the fingerprint matches
// the cached row the reducer is not run at all. Returns whether the row
// changed.
func Refresh(ctx context.Context, db *DB, rep *repo.Repository, red reducer.Reducer, name string) (bool, error) {
	item, err := rep.Item(name)
	if err != nil {
		return false, err
	}

	l := itemLayout(item)
	fp := fingerprint(rep, l)
	stored, err := db.GetFingerprint(name)
	if err != nil {
		return false, err
	}
	if stored == fp {
		return false, nil
	}

	state, err := red.Reduce(ctx, item)
	if err != nil {
		return false, fmt.Errorf("statecache: reduce %s: %w", name, err)
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("statecache: encode state for %s: %w", name, err)
	}

	var heads []string
	if len(l.gens) > 0 {
		heads = l.gens[len(l.gens)-1]
	}
	sum := summary.Derive(stateFiles(state))
	row := ItemRow{
		Name:            name,
		Fingerprint:     fp,
		Heads:           heads,
		RecordCount:     l.records,
		GenerationCount: len(l.gens),
		Remaining:       l.remaining,
		State:           string(stateJSON),
		Title:           sum.Title,
		Tags:            sum.Tags,
		Refs:            sum.Refs,
		UpdatedAt:       time.Now().UTC(),
	}
	return true, db.UpsertItem(row)
}

// stateFiles recovers the folded file contents from a reducer state shaped
// like Merge's output. Reducers with a different shape simply yield no
// display metadata.
func stateFiles(state reducer.State) map[string]string {
	out := map[string]string{}
	files, _ := state["files"].(map[string]any)
	for name, v := range files {
		entry, _ := v.(map[string]any)
		if s, ok := entry["value"].(string); ok {
			out[name] = s
		}
	}
	return out
}

// Sync walks the repository and brings the cache up to date:
//   - new or changed items are re-folded and upserted
//   - items removed from disk are deleted from the cache
func Sync(ctx context.Context, db *DB, rep *repo.Repository, red reducer.Reducer, logger *slog.Logger) error {
	iter, err := rep.Items()
	if err != nil {
		return err
	}

	fingerprints, err := db.AllFingerprints()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{})
	for item, ok := iter.Next(); ok; item, ok = iter.Next() {
		disk[item.Name()] = struct{}{}

		changed, err := Refresh(ctx, db, rep, red, item.Name())
		if err != nil {
			logger.Warn("sync: refresh failed", slog.String("item", item.Name()), slog.String("error", err.Error()))
			continue
		}
		if changed {
			logger.Debug("sync: refreshed", slog.String("item", item.Name()))
		}
	}

	// Remove stale entries.
	for name := range fingerprints {
		if _, ok := disk[name]; !ok {
			if err := db.DeleteItem(name); err != nil {
				logger.Warn("sync: delete failed", slog.String("item", name), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("item", name))
			}
		}
	}

	return nil
}
