package pyserver

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces a burst of filesystem events (e.g. an rsync
// unpacking many files) into a single manifest refresh.
const watchDebounce = 500 * time.Millisecond

// runWatcher watches the root tree with fsnotify and nudges the ticker-driven
// refresher to run early whenever something changes, instead of waiting out
// the full refresherInterval. It never replaces the ticker: watch gaps on
// some platforms, or a root that doesn't exist yet, still converge on the
// next periodic tick.
func (s *Server) runWatcher(ctx context.Context, nudge chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn("filesystem watcher unavailable, relying on periodic refresh", "error", err)

		return nil
	}
	defer watcher.Close()

	if err := addWatchesRecursive(watcher, s.cfg.Root); err != nil {
		s.log.Warn("adding initial watches failed, relying on periodic refresh", "error", err)

		return nil
	}

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			s.log.Warn("filesystem watcher error", "error", err)

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := watcher.Add(ev.Name); addErr != nil {
						s.log.Warn("failed to add watch for new directory", "path", ev.Name, "error", addErr)
					}
				}
			}

			if debounce == nil {
				debounce = time.AfterFunc(watchDebounce, func() {
					select {
					case nudge <- struct{}{}:
					default:
					}
				})
			} else {
				debounce.Reset(watchDebounce)
			}
		}
	}
}

// addWatchesRecursive walks root and adds a watch on every directory,
// silently skipping entries it cannot walk or watch rather than aborting.
func addWatchesRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}

		if !d.IsDir() {
			return nil
		}

		_ = watcher.Add(path)

		return nil
	})
}
