// Package service coordinates the artifact cache, the document stores and
// the indices behind the HTTP and MCP surfaces. Every operation names its
// document explicitly.
package service

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/artifact"
	"github.com/starford/marginalia/internal/chats"
	"github.com/starford/marginalia/internal/checksum"
	"github.com/starford/marginalia/internal/docsettings"
	"github.com/starford/marginalia/internal/legacy"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/notebook"
	"github.com/starford/marginalia/internal/pathstore"
	"github.com/starford/marginalia/internal/sse"
)

// Mover handles a document move; in production it is the relocation hook.
type Mover interface {
	MoveDocument(oldPath, newPath string) error
}

// Publisher receives change events. It may be nil.
type Publisher interface {
	PublishArtifact(eventType string, data sse.ArtifactData)
	PublishDocument(eventType, oldPath, newPath string)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Cache     *artifact.Cache
	Notebooks *notebook.Store
	Chats     *chats.Store
	Host      *docsettings.Host
	Indexes   *pathstore.Indexes
	Mover     Mover
	Migrator  *legacy.Migrator
	Events    Publisher
}

// Service is the application layer.
type Service struct {
	Deps
	notices *artifact.Notices
}

// New creates a Service.
func New(d Deps) *Service {
	return &Service{Deps: d, notices: artifact.NewNotices()}
}

// ArtifactView is a cached artifact with its staleness verdict for the
// reader's position.
type ArtifactView struct {
	Document string          `json:"document"`
	Action   string          `json:"action"`
	Entry    artifact.Entry  `json:"entry"`
	Status   artifact.Status `json:"status"`
	Labels   []string        `json:"labels"`
	Notify   bool            `json:"notify"`
}

// ReaderPosition overrides the position stored in the document metadata.
// A nil Progress uses the stored last position.
type ReaderPosition struct {
	Progress    *float64
	Sensitivity artifact.Sensitivity
}

// NotebookView is a notebook with its checksum for conditional writes.
type NotebookView struct {
	Document string `json:"document"`
	Content  string `json:"content"`
	Checksum string `json:"checksum"`
}

// MigrationStatus describes the legacy migration.
type MigrationStatus struct {
	State  legacy.State   `json:"state"`
	Result *legacy.Result `json:"result,omitempty"`
}

func checkDoc(doc string) error {
	if doc == "" || !filepath.IsAbs(doc) {
		return fmt.Errorf("%w: %q", apperr.ErrInvalidPath, doc)
	}
	return nil
}

// ListArtifacts returns the artifacts available for doc.
func (s *Service) ListArtifacts(_ context.Context, doc string) ([]artifact.Summary, error) {
	if err := checkDoc(doc); err != nil {
		return nil, err
	}
	return s.Cache.ListAvailable(doc)
}

// GetArtifact returns one artifact and what the reader can do with it.
func (s *Service) GetArtifact(_ context.Context, doc, action string, pos ReaderPosition) (*ArtifactView, error) {
	if err := checkDoc(doc); err != nil {
		return nil, err
	}
	e, ok, err := s.Cache.Get(doc, action)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrNotFound
	}
	p, err := s.position(doc, pos)
	if err != nil {
		return nil, err
	}
	sens := pos.Sensitivity
	if artifact.IsLegacySlot(action) {
		sens = artifact.PositionInsensitive
	}
	st := artifact.Evaluate(e, p, sens)
	labels := make([]string, 0, len(st.Offers))
	for _, o := range st.Offers {
		labels = append(labels, o.Label())
	}
	return &ArtifactView{
		Document: doc,
		Action:   action,
		Entry:    e,
		Status:   st,
		Labels:   labels,
		Notify:   s.notices.ShouldNotify(doc, st),
	}, nil
}

// PutArtifact stores a newly generated artifact. An entry without a scope
// fingerprint is stamped with the document's current one.
func (s *Service) PutArtifact(_ context.Context, doc, action string, e artifact.Entry) (artifact.Entry, error) {
	if err := checkDoc(doc); err != nil {
		return artifact.Entry{}, err
	}
	if e.ScopeFingerprint == "" {
		fp, err := s.scope(doc)
		if err != nil {
			return artifact.Entry{}, err
		}
		e.ScopeFingerprint = fp
	}
	saved, err := s.Cache.Put(doc, action, e)
	if err != nil {
		return artifact.Entry{}, err
	}
	s.publishArtifact(sse.TypeArtifactSaved, doc, action, saved.Progress)
	return saved, nil
}

// UpdateArtifact extends an artifact to a later position.
func (s *Service) UpdateArtifact(_ context.Context, doc, action, result string, progress float64, meta artifact.Meta) (artifact.Entry, error) {
	if err := checkDoc(doc); err != nil {
		return artifact.Entry{}, err
	}
	if meta.ScopeFingerprint == "" {
		fp, err := s.scope(doc)
		if err != nil {
			return artifact.Entry{}, err
		}
		meta.ScopeFingerprint = fp
	}
	e, err := s.Cache.Update(doc, action, result, progress, meta)
	if err != nil {
		return artifact.Entry{}, err
	}
	s.publishArtifact(sse.TypeArtifactUpdated, doc, action, e.Progress)
	return e, nil
}

// RedoArtifact replaces an artifact with one generated at progress.
func (s *Service) RedoArtifact(_ context.Context, doc, action, result string, progress float64, meta artifact.Meta) (artifact.Entry, error) {
	if err := checkDoc(doc); err != nil {
		return artifact.Entry{}, err
	}
	if meta.ScopeFingerprint == "" {
		fp, err := s.scope(doc)
		if err != nil {
			return artifact.Entry{}, err
		}
		meta.ScopeFingerprint = fp
	}
	e, err := s.Cache.Redo(doc, action, result, progress, meta)
	if err != nil {
		return artifact.Entry{}, err
	}
	s.publishArtifact(sse.TypeArtifactSaved, doc, action, e.Progress)
	return e, nil
}

// ClearArtifact deletes one artifact. An empty action clears them all.
func (s *Service) ClearArtifact(_ context.Context, doc, action string) error {
	if err := checkDoc(doc); err != nil {
		return err
	}
	var err error
	if action == "" {
		err = s.Cache.ClearAll(doc)
	} else {
		err = s.Cache.Clear(doc, action)
	}
	if err != nil {
		return err
	}
	s.publishArtifact(sse.TypeArtifactCleared, doc, action, 0)
	return nil
}

// DismissNotice hides the "artifact is behind" notice for the artifact's
// current cached progress.
func (s *Service) DismissNotice(_ context.Context, doc, action string) error {
	if err := checkDoc(doc); err != nil {
		return err
	}
	e, ok, err := s.Cache.Get(doc, action)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrNotFound
	}
	s.notices.Dismiss(doc, e.Progress)
	return nil
}

// SetPosition records the reader's position and hidden sections for doc.
func (s *Service) SetPosition(_ context.Context, doc string, progress float64, hiddenFlows []string) error {
	if err := checkDoc(doc); err != nil {
		return err
	}
	if progress < 0 || progress > 1 {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidProgress, progress)
	}
	meta, err := s.Host.Load(doc)
	if err != nil {
		return err
	}
	meta.LastPercent = progress
	meta.HiddenFlows = hiddenFlows
	return s.Host.Save(doc, meta)
}

// MoveDocument reports a document move made outside the watcher.
func (s *Service) MoveDocument(_ context.Context, oldPath, newPath string) error {
	if err := checkDoc(oldPath); err != nil {
		return err
	}
	if err := checkDoc(newPath); err != nil {
		return err
	}
	if err := s.Mover.MoveDocument(oldPath, newPath); err != nil {
		return err
	}
	if s.Events != nil {
		s.Events.PublishDocument(sse.TypeDocumentMoved, oldPath, newPath)
	}
	return nil
}

// DocumentRemoved drops the index records of a document that left the
// library. Its sidecar files are kept so the document can come back.
func (s *Service) DocumentRemoved(_ context.Context, doc string) error {
	if err := checkDoc(doc); err != nil {
		return err
	}
	err := s.Indexes.DeleteAll(doc)
	if s.Events != nil {
		s.Events.PublishDocument(sse.TypeDocumentRemoved, doc, "")
	}
	return err
}

// IndexRecord returns the record of the named index for doc.
func (s *Service) IndexRecord(_ context.Context, name, doc string) (any, error) {
	var (
		rec any
		ok  bool
		err error
	)
	switch name {
	case pathstore.ChatIndex:
		rec, ok, err = getAny(s.Indexes.Chats, doc)
	case pathstore.NotebookIndex:
		rec, ok, err = getAny(s.Indexes.Notebooks, doc)
	case pathstore.ArtifactIndex:
		rec, ok, err = getAny(s.Indexes.Artifacts, doc)
	default:
		return nil, fmt.Errorf("unknown index %q: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return rec, nil
}

// IndexPaths lists the documents with a record in the named index.
func (s *Service) IndexPaths(_ context.Context, name string) ([]string, error) {
	switch name {
	case pathstore.ChatIndex:
		return s.Indexes.Chats.Paths()
	case pathstore.NotebookIndex:
		return s.Indexes.Notebooks.Paths()
	case pathstore.ArtifactIndex:
		return s.Indexes.Artifacts.Paths()
	}
	return nil, fmt.Errorf("unknown index %q: %w", name, apperr.ErrNotFound)
}

func getAny[T any](st *pathstore.Store[T], doc string) (any, bool, error) {
	rec, ok, err := st.Get(doc)
	return rec, ok, err
}

// GetNotebook returns the notebook of doc.
func (s *Service) GetNotebook(_ context.Context, doc string) (*NotebookView, error) {
	if err := checkDoc(doc); err != nil {
		return nil, err
	}
	content, ok, err := s.Notebooks.Read(doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &NotebookView{Document: doc, Content: content, Checksum: checksum.Sum([]byte(content))}, nil
}

// PutNotebook replaces the notebook of doc. A non-empty ifMatch must equal
// the checksum of the current content.
func (s *Service) PutNotebook(_ context.Context, doc, content, ifMatch string) (*NotebookView, error) {
	if err := checkDoc(doc); err != nil {
		return nil, err
	}
	if ifMatch != "" {
		cur, ok, err := s.Notebooks.Read(doc)
		if err != nil {
			return nil, err
		}
		if !ok || checksum.Sum([]byte(cur)) != ifMatch {
			return nil, apperr.ErrConflict
		}
	}
	if err := s.Notebooks.Write(doc, content); err != nil {
		return nil, err
	}
	return &NotebookView{Document: doc, Content: content, Checksum: checksum.Sum([]byte(content))}, nil
}

// DeleteNotebook removes the notebook of doc.
func (s *Service) DeleteNotebook(_ context.Context, doc string) error {
	if err := checkDoc(doc); err != nil {
		return err
	}
	return s.Notebooks.Delete(doc)
}

// ListChats returns the saved chats of doc, or the general chats for
// chats.GeneralDocument.
func (s *Service) ListChats(_ context.Context, doc string) ([]models.Chat, error) {
	if doc != chats.GeneralDocument {
		if err := checkDoc(doc); err != nil {
			return nil, err
		}
	}
	return s.Chats.List(doc)
}

// Migration returns the state of the legacy migration.
func (s *Service) Migration(_ context.Context) MigrationStatus {
	if s.Migrator == nil {
		return MigrationStatus{State: legacy.StateComplete}
	}
	return MigrationStatus{State: s.Migrator.State(), Result: s.Migrator.LastResult()}
}

func (s *Service) position(doc string, pos ReaderPosition) (artifact.Position, error) {
	meta, err := s.Host.Load(doc)
	if err != nil {
		return artifact.Position{}, err
	}
	p := artifact.Position{
		Progress:         meta.LastPercent,
		ScopeFingerprint: artifact.ScopeFingerprint(meta.HiddenFlows),
	}
	if pos.Progress != nil {
		p.Progress = *pos.Progress
	}
	return p, nil
}

func (s *Service) scope(doc string) (string, error) {
	meta, err := s.Host.Load(doc)
	if err != nil {
		return "", err
	}
	return artifact.ScopeFingerprint(meta.HiddenFlows), nil
}

func (s *Service) publishArtifact(eventType, doc, action string, progress float64) {
	if s.Events == nil {
		return
	}
	s.Events.PublishArtifact(eventType, sse.ArtifactData{Document: doc, Action: action, Progress: progress})
}
