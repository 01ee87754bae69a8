package source

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/casefile/internal/models"
)

// DefaultDebounce is how long the watcher waits after the last change to a
// collection before refreshing it.
const DefaultDebounce = 200 * time.Millisecond

// Refresher brings the cache of one collection up to date.
type Refresher interface {
	Refresh(ctx context.Context, entityType models.EntityType) (Stats, error)
}

// RefreshCallback is called after every watcher-driven refresh.
type RefreshCallback func(entityType models.EntityType, stats Stats, err error)

// Watch starts an fsnotify watcher on the records vault root and refreshes
// the affected collection after changes settle, until ctx is cancelled.
//
// Events are grouped by the top-level directory (the entity type). New
// directories created at runtime are added to the watch list.
func Watch(ctx context.Context, r Refresher, vaultRoot string, debounce time.Duration, logger *slog.Logger, cb RefreshCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, vaultRoot); err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	logger.Info("watcher: started", slog.String("root", vaultRoot))

	dirty := make(map[models.EntityType]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func(t models.EntityType) {
		dirty[t] = struct{}{}
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			for _, t := range models.EntityTypes {
				if _, ok := dirty[t]; !ok {
					continue
				}
				delete(dirty, t)
				stats, rerr := r.Refresh(ctx, t)
				if rerr != nil {
					logger.Warn("watcher: refresh failed", slog.String("type", string(t)), slog.String("error", rerr.Error()))
				} else {
					logger.Debug("watcher: refreshed",
						slog.String("type", string(t)),
						slog.Int("full_fetched", stats.FullFetched),
						slog.Int("deleted", stats.Deleted))
				}
				if cb != nil {
					cb(t, stats, rerr)
				}
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					if t, ok := typeOf(vaultRoot, filepath.Join(absPath, "x.md")); ok {
						schedule(t)
					}
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") || strings.HasPrefix(filepath.Base(absPath), ".") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if t, ok := typeOf(vaultRoot, absPath); ok {
				schedule(t)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// typeOf maps a path under root to the collection it belongs to.
func typeOf(root, absPath string) (models.EntityType, bool) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return "", false
	}
	t, err := models.ParseEntityType(parts[0])
	if err != nil {
		return "", false
	}
	return t, true
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
