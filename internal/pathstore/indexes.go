package pathstore

import (
	"errors"
	"log/slog"

	"github.com/starford/marginalia/internal/models"
)

// Index names.
const (
	ChatIndex     = "chats"
	NotebookIndex = "notebooks"
	ArtifactIndex = "artifacts"
)

// Rekeyer is the part of a Store needed to follow a document move.
type Rekeyer interface {
	Namespace() string
	Rekey(oldPath, newPath string) error
}

// Indexes bundles the three document indices.
type Indexes struct {
	Chats     *Store[models.ChatIndexRecord]
	Notebooks *Store[models.NotebookIndexRecord]
	Artifacts *Store[models.ArtifactIndexRecord]

	logger *slog.Logger
}

// NewIndexes builds the chat, notebook and artifact indices on one backend.
func NewIndexes(backend Backend, logger *slog.Logger) *Indexes {
	return &Indexes{
		Chats:     New[models.ChatIndexRecord](ChatIndex, backend, logger),
		Notebooks: New[models.NotebookIndexRecord](NotebookIndex, backend, logger),
		Artifacts: New[models.ArtifactIndexRecord](ArtifactIndex, backend, logger),
		logger:    logger,
	}
}

func (ix *Indexes) all() []Rekeyer {
	return []Rekeyer{ix.Chats, ix.Notebooks, ix.Artifacts}
}

// RekeyAll rekeys every index from oldPath to newPath. A failing index does
// not stop the others; the errors are joined.
func (ix *Indexes) RekeyAll(oldPath, newPath string) error {
	var errs []error
	for _, s := range ix.all() {
		if err := s.Rekey(oldPath, newPath); err != nil {
			ix.logger.Warn("pathstore: rekey failed",
				slog.String("index", s.Namespace()),
				slog.String("old_path", oldPath),
				slog.String("new_path", newPath),
				slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteAll removes the records of path from every index. A failing index
// does not stop the others; the errors are joined.
func (ix *Indexes) DeleteAll(path string) error {
	var errs []error
	dels := []struct {
		namespace string
		del       func(string) error
	}{
		{ChatIndex, ix.Chats.Delete},
		{NotebookIndex, ix.Notebooks.Delete},
		{ArtifactIndex, ix.Artifacts.Delete},
	}
	for _, d := range dels {
		if err := d.del(path); err != nil {
			ix.logger.Warn("pathstore: delete failed",
				slog.String("index", d.namespace),
				slog.String("path", path),
				slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reconcile drops records whose document no longer exists and returns how
// many were removed.
func (ix *Indexes) Reconcile(exists func(path string) bool) (int, error) {
	removed := 0
	var errs []error
	reconcile := func(namespace string, paths []string, del func(string) error) {
		for _, p := range paths {
			if exists(p) {
				continue
			}
			if err := del(p); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
			ix.logger.Debug("pathstore: removed stale record",
				slog.String("index", namespace), slog.String("path", p))
		}
	}

	if paths, err := ix.Chats.Paths(); err != nil {
		errs = append(errs, err)
	} else {
		reconcile(ChatIndex, paths, ix.Chats.Delete)
	}
	if paths, err := ix.Notebooks.Paths(); err != nil {
		errs = append(errs, err)
	} else {
		reconcile(NotebookIndex, paths, ix.Notebooks.Delete)
	}
	if paths, err := ix.Artifacts.Paths(); err != nil {
		errs = append(errs, err)
	} else {
		reconcile(ArtifactIndex, paths, ix.Artifacts.Delete)
	}
	return removed, errors.Join(errs...)
}
