package statecache

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/othala/internal/reducer"
	"github.com/starford/othala/internal/repo"
)

// EventCallback is called after a watcher-driven cache change.
// kind is one of "created", "updated", "deleted"; name is the item.
type EventCallback func(kind string, name string)

// Watch starts an fsnotify watcher on the items namespace and keeps the
// cache current until ctx is cancelled. It calls cb (if non-nil) after each
// successful cache mutation.
//
// New directories created at runtime are automatically added to the watch
// list. Remove and rename events additionally schedule a debounced
// reconciliation pass that drops cached rows whose items no longer exist.
// Item storage relocated outside the namespace is not watched; those items
// stay current through reconciliation and explicit refreshes only.
func Watch(ctx context.Context, db *DB, rep *repo.Repository, red reducer.Reducer, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	itemsRoot := rep.ItemsPath()
	if err := addDirsRecursive(w, itemsRoot); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", itemsRoot))

	// reconcileTimer debounces reconciliation after removes and renames.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	refresh := func(kind, name string) {
		changed, err := Refresh(ctx, db, rep, red, name)
		if err != nil {
			logger.Warn("watcher: refresh failed", slog.String("item", name), slog.String("error", err.Error()))
			return
		}
		if !changed {
			return
		}
		logger.Debug("watcher: refreshed", slog.String("item", name), slog.String("op", kind))
		if cb != nil {
			cb(kind, name)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(ctx, db, rep, red, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			name, entry, ok := eventItem(itemsRoot, ev.Name)
			if !ok {
				continue
			}

			// --- Handle new directories: add to watcher ---
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
				}
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				kind := "updated"
				if entry && ev.Op&fsnotify.Create != 0 {
					kind = "created"
				}
				refresh(kind, name)

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if entry {
					// The namespace entry itself went away. Drop the row
					// now; reconciliation catches anything that reappears
					// under a new name.
					if delErr := db.DeleteItem(name); delErr != nil {
						logger.Warn("watcher: delete failed", slog.String("item", name), slog.String("error", delErr.Error()))
					} else {
						logger.Debug("watcher: deleted", slog.String("item", name))
						if cb != nil {
							cb("deleted", name)
						}
					}
					scheduleReconcile()
				} else {
					refresh("updated", name)
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// eventItem maps an event path to the item entry name it belongs to.
// entry reports whether the path is the namespace entry itself rather than
// something inside it. Paths outside the namespace and staging directories
// are rejected.
func eventItem(itemsRoot, path string) (name string, entry bool, ok bool) {
	rel, err := filepath.Rel(itemsRoot, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false, false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	for _, p := range parts {
		if strings.HasPrefix(p, repo.StagePrefix) {
			return "", false, false
		}
	}
	return parts[0], len(parts) == 1, true
}

// reconcile does a lightweight sync using batch lookups: refreshes every
// item still on disk and removes cached rows whose items are gone.
func reconcile(ctx context.Context, db *DB, rep *repo.Repository, red reducer.Reducer, logger *slog.Logger, cb EventCallback) {
	fingerprints, err := db.AllFingerprints()
	if err != nil {
		logger.Warn("reconcile: all fingerprints failed", slog.String("error", err.Error()))
		return
	}

	iter, err := rep.Items()
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]struct{})
	for item, ok := iter.Next(); ok; item, ok = iter.Next() {
		disk[item.Name()] = struct{}{}
		changed, err := Refresh(ctx, db, rep, red, item.Name())
		if err != nil {
			continue
		}
		if changed {
			logger.Debug("reconcile: refreshed", slog.String("item", item.Name()))
			if cb != nil {
				cb("updated", item.Name())
			}
		}
	}

	for name := range fingerprints {
		if _, ok := disk[name]; !ok {
			if delErr := db.DeleteItem(name); delErr == nil {
				logger.Debug("reconcile: removed stale", slog.String("item", name))
				if cb != nil {
					cb("deleted", name)
				}
			}
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
