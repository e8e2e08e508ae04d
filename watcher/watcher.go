// Package watcher finds newly completed image files under a monitored
// directory tree. An external imaging application writes frames at its own
// pace, so a file only counts as ready once its size and modification time
// hold still across two successive checks.
package watcher

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// matchExtensions are the scientific-image suffixes the scan accepts
var matchExtensions = []string{".fits", ".fit", ".fts"}

// candidate tracks the newest file between successive polls
type candidate struct {
	path    string
	size    int64
	modTime time.Time
}

// Watcher scans one directory tree for the latest stable image file
type Watcher struct {
	root   string
	logger *slog.Logger

	mu        sync.Mutex
	pending   candidate
	delivered candidate // last version handed out, never re-delivered
}

// New creates a watcher over the given root directory
func New(root string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:   root,
		logger: logger.With("component", "watcher", "root", root),
	}
}

// Latest returns the path of the newest stable image file, or "" when
// nothing new and stable has appeared since the previous call. Stability
// requires the same size and modification time on two successive calls,
// so a freshly written file is handed out no earlier than the second poll
// after its last write. An unreadable root is an error so the caller can
// treat a broken gallery disk as a connectivity loss.
func (w *Watcher) Latest() (string, error) {
	newest, found, err := w.scan()
	if err != nil {
		w.logger.Warn("Directory scan failed", "error", err)
		return "", fmt.Errorf("scanning %s: %w", w.root, err)
	}
	if !found {
		return "", nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if newest == w.delivered {
		return "", nil
	}

	stable := newest == w.pending
	w.pending = newest
	if !stable {
		return "", nil
	}

	w.delivered = newest
	w.logger.Info("New image file ready", "path", newest.path, "size", newest.size)
	return newest.path, nil
}

// scan walks the tree and returns the most recently modified matching file.
// A root that cannot be read at all fails the scan; entries vanishing or
// turning unreadable mid-walk are skipped.
func (w *Watcher) scan() (candidate, bool, error) {
	var newest candidate
	found := false

	err := filepath.WalkDir(w.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == w.root {
				return err
			}
			w.logger.Debug("Skipping unreadable entry", "path", path, "error", err)
			return nil
		}
		if entry.IsDir() || !matchesExtension(entry.Name()) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if !found || info.ModTime().After(newest.modTime) {
			newest = candidate{path: path, size: info.Size(), modTime: info.ModTime()}
			found = true
		}
		return nil
	})
	if err != nil {
		return candidate{}, false, err
	}
	return newest, found, nil
}

func matchesExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, m := range matchExtensions {
		if ext == m {
			return true
		}
	}
	return false
}
