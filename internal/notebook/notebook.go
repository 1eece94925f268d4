// Package notebook keeps a free-form Markdown notebook beside each document.
package notebook

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/starford/marginalia/internal/docsettings"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/sidecar"
	"github.com/starford/marginalia/internal/storage"
)

// IndexStore is the notebook index kept in step with the files.
type IndexStore interface {
	Get(path string) (models.NotebookIndexRecord, bool, error)
	Put(path string, rec models.NotebookIndexRecord) error
	Delete(path string) error
}

// Store reads and writes notebooks. A document has a notebook index
// record exactly when its notebook file exists.
type Store struct {
	files  storage.Provider
	index  IndexStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a notebook Store.
func New(files storage.Provider, index IndexStore, logger *slog.Logger) *Store {
	return &Store{
		files:  files,
		index:  index,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Path returns the notebook file of doc.
func Path(doc string) string {
	return docsettings.SidecarFile(doc, sidecar.NotebookFile)
}

// Write replaces the notebook of doc. Empty content deletes it.
func (s *Store) Write(doc, content string) error {
	if content == "" {
		return s.Delete(doc)
	}
	if err := s.files.Write(Path(doc), []byte(content)); err != nil {
		return fmt.Errorf("notebook: write: %w", err)
	}
	s.putIndex(doc, len(content))
	return nil
}

// Read returns the notebook of doc and whether it exists. A record left
// behind by a removed file is dropped; a file without a record is indexed.
func (s *Store) Read(doc string) (string, bool, error) {
	data, err := s.files.Read(Path(doc))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", false, fmt.Errorf("notebook: read: %w", err)
		}
		if _, ok, _ := s.index.Get(doc); ok {
			s.deleteIndex(doc)
		}
		return "", false, nil
	}
	if _, ok, _ := s.index.Get(doc); !ok {
		s.putIndex(doc, len(data))
	}
	return string(data), true, nil
}

// Delete removes the notebook of doc.
func (s *Store) Delete(doc string) error {
	if err := s.files.Delete(Path(doc)); err != nil {
		return fmt.Errorf("notebook: delete: %w", err)
	}
	s.deleteIndex(doc)
	return nil
}

func (s *Store) putIndex(doc string, size int) {
	rec := models.NotebookIndexRecord{Size: int64(size), Modified: s.now()}
	if err := s.index.Put(doc, rec); err != nil {
		s.logger.Warn("notebook: index update failed",
			slog.String("path", doc), slog.String("error", err.Error()))
	}
}

func (s *Store) deleteIndex(doc string) {
	if err := s.index.Delete(doc); err != nil {
		s.logger.Warn("notebook: index delete failed",
			slog.String("path", doc), slog.String("error", err.Error()))
	}
}
