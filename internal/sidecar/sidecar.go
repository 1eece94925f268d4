// Package sidecar moves plugin-owned sidecar files when a document is relocated.
package sidecar

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/marginalia/internal/docsettings"
	"github.com/starford/marginalia/internal/metrics"
	"github.com/starford/marginalia/internal/storage"
)

// Sidecar file names owned by this module.
const (
	ArtifactCacheFile = "artifact_cache.json"
	NotebookFile      = "notebook.md"
	AliasesFile       = "aliases.json"
)

// FilesVersion identifies the current Files list. Bump it when a name is
// added so older layouts can be recognised.
const FilesVersion = 1

// Files is the fixed list of sidecar files carried across document moves.
var Files = []string{ArtifactCacheFile, NotebookFile, AliasesFile}

// FileResult reports the outcome for one sidecar file.
type FileResult struct {
	Name   string
	Moved  bool
	Method storage.MoveMethod
	Err    error
}

// Migrator moves sidecar files between sidecar directories.
type Migrator struct {
	store   storage.Provider
	files   []string
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewMigrator creates a Migrator for the default Files list.
func NewMigrator(store storage.Provider, logger *slog.Logger, m *metrics.Collector) *Migrator {
	return &Migrator{store: store, files: Files, logger: logger, metrics: m}
}

// MoveSidecars moves every present sidecar file from oldDoc's sidecar
// directory to newDoc's. A failure on one file is logged and the remaining
// files are still processed.
func (m *Migrator) MoveSidecars(oldDoc, newDoc string) []FileResult {
	oldDir := docsettings.SidecarDir(oldDoc)
	newDir := docsettings.SidecarDir(newDoc)
	results := make([]FileResult, 0, len(m.files))
	if oldDir == newDir {
		return results
	}

	if err := os.MkdirAll(newDir, 0o755); err != nil {
		m.logger.Warn("sidecar: create target dir failed",
			slog.String("dir", newDir),
			slog.String("error", err.Error()))
	}

	for _, name := range m.files {
		src := docsettings.SidecarFile(oldDoc, name)
		if !m.store.Exists(src) {
			continue
		}
		dst := docsettings.SidecarFile(newDoc, name)
		method, err := m.store.Move(src, dst)
		res := FileResult{Name: name, Method: method}
		if err != nil {
			res.Err = fmt.Errorf("sidecar: move %s: %w", name, err)
			m.logger.Warn("sidecar: move failed",
				slog.String("file", name),
				slog.String("old_path", oldDoc),
				slog.String("new_path", newDoc),
				slog.String("error", err.Error()))
			m.metrics.SidecarMoved(string(method), false)
		} else {
			res.Moved = true
			m.logger.Debug("sidecar: moved",
				slog.String("file", name),
				slog.String("method", string(method)))
			m.metrics.SidecarMoved(string(method), true)
		}
		results = append(results, res)
	}
	return results
}
