// Package watcher follows document moves inside the library directory and
// reports them to the relocation hook.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/marginalia/internal/docsettings"
)

// DefaultExtensions are the document types followed when none are configured.
var DefaultExtensions = []string{".epub", ".pdf", ".mobi", ".azw3", ".fb2", ".djvu", ".cbz", ".txt"}

// DefaultPairWindow is how long a rename waits for its matching create.
const DefaultPairWindow = 500 * time.Millisecond

// Mover receives the document moves the watcher detects.
type Mover interface {
	MoveDocument(oldPath, newPath string) error
}

// EventCallback is called after each detected change.
// kind is one of "moved", "removed".
type EventCallback func(kind, oldPath, newPath string)

// Config selects what is watched.
type Config struct {
	Root       string
	Extensions []string
	PairWindow time.Duration
}

type pendingRename struct {
	path  string
	isDir bool
	at    time.Time
}

type watchState struct {
	cfg     Config
	exts    map[string]struct{}
	w       *fsnotify.Watcher
	mover   Mover
	logger  *slog.Logger
	cb      EventCallback
	dirs    map[string]struct{}
	pending []pendingRename
}

// Watch starts an fsnotify watcher on the library root and processes file
// events until ctx is cancelled.
//
// fsnotify reports a move as a Rename on the old path followed by a Create
// on the new one. A Create arriving within the pair window of a Rename of
// the same kind is reported to mover as a document move; a directory move
// is expanded into one move per document inside it. Renames left unpaired
// are reported as removals. Sidecar directories are never watched.
func Watch(ctx context.Context, cfg Config, mover Mover, logger *slog.Logger, cb EventCallback) error {
	if cfg.PairWindow <= 0 {
		cfg.PairWindow = DefaultPairWindow
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	st := &watchState{
		cfg:    cfg,
		exts:   make(map[string]struct{}, len(cfg.Extensions)),
		w:      w,
		mover:  mover,
		logger: logger,
		cb:     cb,
		dirs:   map[string]struct{}{},
	}
	for _, e := range cfg.Extensions {
		st.exts[strings.ToLower(e)] = struct{}{}
	}
	if err := st.addDirsRecursive(cfg.Root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", cfg.Root))

	ticker := time.NewTicker(cfg.PairWindow / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case now := <-ticker.C:
			st.expire(now)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			st.handle(ev, time.Now())

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (st *watchState) handle(ev fsnotify.Event, now time.Time) {
	path := ev.Name
	if docsettings.IsSidecarDir(path) || strings.Contains(path, docsettings.SidecarSuffix+string(filepath.Separator)) {
		return
	}

	switch {
	case ev.Op&fsnotify.Rename != 0:
		_, isDir := st.dirs[path]
		if isDir {
			st.forgetDir(path)
		} else if !st.isDocument(path) {
			return
		}
		st.pending = append(st.pending, pendingRename{path: path, isDir: isDir, at: now})

	case ev.Op&fsnotify.Create != 0:
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := st.addDirsRecursive(path); err != nil {
				st.logger.Warn("watcher: add new dir failed",
					slog.String("path", path), slog.String("error", err.Error()))
			}
			if old, ok := st.takePending(true, now); ok {
				st.moveDir(old, path)
			}
			return
		}
		if !st.isDocument(path) {
			return
		}
		if old, ok := st.takePending(false, now); ok {
			st.move(old, path)
		}

	case ev.Op&fsnotify.Remove != 0:
		if _, ok := st.dirs[path]; ok {
			st.forgetDir(path)
			return
		}
		if st.isDocument(path) {
			st.report("removed", path, "")
		}
	}
}

// takePending returns the oldest unexpired rename of the given kind.
func (st *watchState) takePending(isDir bool, now time.Time) (string, bool) {
	for i, p := range st.pending {
		if p.isDir != isDir || now.Sub(p.at) > st.cfg.PairWindow {
			continue
		}
		st.pending = append(st.pending[:i], st.pending[i+1:]...)
		return p.path, true
	}
	return "", false
}

// expire reports renames whose pair window has passed as removals.
func (st *watchState) expire(now time.Time) {
	kept := st.pending[:0]
	for _, p := range st.pending {
		if now.Sub(p.at) <= st.cfg.PairWindow {
			kept = append(kept, p)
			continue
		}
		st.logger.Debug("watcher: rename left unpaired", slog.String("path", p.path))
		if !p.isDir {
			st.report("removed", p.path, "")
		}
	}
	st.pending = kept
}

func (st *watchState) move(oldPath, newPath string) {
	if err := st.mover.MoveDocument(oldPath, newPath); err != nil {
		st.logger.Error("watcher: move handling failed",
			slog.String("old_path", oldPath),
			slog.String("new_path", newPath),
			slog.String("error", err.Error()))
	}
	st.report("moved", oldPath, newPath)
}

// moveDir reports a move for every document under the moved directory.
func (st *watchState) moveDir(oldDir, newDir string) {
	_ = filepath.WalkDir(newDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if docsettings.IsSidecarDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !st.isDocument(path) {
			return nil
		}
		rel, relErr := filepath.Rel(newDir, path)
		if relErr != nil {
			return nil
		}
		st.move(filepath.Join(oldDir, rel), path)
		return nil
	})
}

func (st *watchState) report(kind, oldPath, newPath string) {
	st.logger.Debug("watcher: "+kind,
		slog.String("old_path", oldPath), slog.String("new_path", newPath))
	if st.cb != nil {
		st.cb(kind, oldPath, newPath)
	}
}

func (st *watchState) isDocument(path string) bool {
	_, ok := st.exts[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (st *watchState) forgetDir(dir string) {
	prefix := dir + string(filepath.Separator)
	for d := range st.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			delete(st.dirs, d)
			_ = st.w.Remove(d)
		}
	}
}

// addDirsRecursive adds root and its subdirectories, skipping sidecars.
func (st *watchState) addDirsRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if docsettings.IsSidecarDir(path) {
			return filepath.SkipDir
		}
		if err := st.w.Add(path); err != nil {
			return err
		}
		st.dirs[path] = struct{}{}
		return nil
	})
}
