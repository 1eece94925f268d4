package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/artifact"
	"github.com/starford/marginalia/internal/chats"
	"github.com/starford/marginalia/internal/docsettings"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/notebook"
	"github.com/starford/marginalia/internal/pathstore"
	"github.com/starford/marginalia/internal/relocate"
	"github.com/starford/marginalia/internal/settings"
	"github.com/starford/marginalia/internal/sidecar"
	"github.com/starford/marginalia/internal/sse"
	"github.com/starford/marginalia/internal/storage"
)

type events struct {
	mu    sync.Mutex
	types []string
}

func (e *events) PublishArtifact(eventType string, _ sse.ArtifactData) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, eventType)
}

func (e *events) PublishDocument(eventType, _, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, eventType)
}

func newTestService(t *testing.T) (*Service, *events, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	db, err := settings.Open(filepath.Join(dir, "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fsys := storage.NewFS()
	ix := pathstore.NewIndexes(db, logger)
	host := docsettings.NewHost(fsys, logger)
	hook := relocate.NewHook(host)
	relocate.Install(hook, sidecar.NewMigrator(fsys, logger, nil), ix, logger)
	ev := &events{}

	svc := New(Deps{
		Cache:     artifact.NewCache(fsys, ix.Artifacts, logger, nil),
		Notebooks: notebook.New(fsys, ix.Notebooks, logger),
		Chats:     chats.New(host, fsys, filepath.Join(dir, "general_chats.json"), ix.Chats, logger),
		Host:      host,
		Indexes:   ix,
		Mover:     hook,
		Events:    ev,
	})
	library := filepath.Join(dir, "library")
	require.NoError(t, os.MkdirAll(library, 0o755))
	return svc, ev, library
}

func TestGetArtifact_UsesStoredPosition(t *testing.T) {
	svc, _, lib := newTestService(t)
	ctx := context.Background()
	doc := filepath.Join(lib, "a.epub")

	_, err := svc.PutArtifact(ctx, doc, "recap", artifact.Entry{Result: "r", Progress: 0.5})
	require.NoError(t, err)
	require.NoError(t, svc.SetPosition(ctx, doc, 0.65, nil))

	view, err := svc.GetArtifact(ctx, doc, "recap", ReaderPosition{})
	require.NoError(t, err)
	assert.Equal(t, artifact.ActionUpdate, view.Status.Primary)
	assert.Equal(t, []string{"View", "Update (to 65%)", "Update to 100%"}, view.Labels)
	assert.True(t, view.Notify)

	at := 0.5
	view, err = svc.GetArtifact(ctx, doc, "recap", ReaderPosition{Progress: &at})
	require.NoError(t, err)
	assert.Equal(t, artifact.ActionRedo, view.Status.Primary)
}

func TestGetArtifact_ScopeChange(t *testing.T) {
	svc, _, lib := newTestService(t)
	ctx := context.Background()
	doc := filepath.Join(lib, "a.epub")

	_, err := svc.PutArtifact(ctx, doc, "recap", artifact.Entry{Result: "r", Progress: 0.5})
	require.NoError(t, err)
	require.NoError(t, svc.SetPosition(ctx, doc, 0.5, []string{"appendix"}))

	view, err := svc.GetArtifact(ctx, doc, "recap", ReaderPosition{})
	require.NoError(t, err)
	assert.True(t, view.Status.ScopeChanged)
}

func TestDismissNotice(t *testing.T) {
	svc, _, lib := newTestService(t)
	ctx := context.Background()
	doc := filepath.Join(lib, "a.epub")

	_, err := svc.PutArtifact(ctx, doc, "recap", artifact.Entry{Result: "r", Progress: 0.2})
	require.NoError(t, err)
	require.NoError(t, svc.SetPosition(ctx, doc, 0.6, nil))
	require.NoError(t, svc.DismissNotice(ctx, doc, "recap"))

	view, err := svc.GetArtifact(ctx, doc, "recap", ReaderPosition{})
	require.NoError(t, err)
	assert.True(t, view.Status.Behind)
	assert.False(t, view.Notify)

	_, err = svc.UpdateArtifact(ctx, doc, "recap", "r2", 0.3, artifact.Meta{})
	require.NoError(t, err)
	view, err = svc.GetArtifact(ctx, doc, "recap", ReaderPosition{})
	require.NoError(t, err)
	assert.True(t, view.Notify)

	assert.ErrorIs(t, svc.DismissNotice(ctx, doc, "missing"), apperr.ErrNotFound)
}

func TestMoveDocument_CarriesEverything(t *testing.T) {
	svc, ev, lib := newTestService(t)
	ctx := context.Background()
	oldDoc := filepath.Join(lib, "a.epub")
	newDoc := filepath.Join(lib, "shelf", "b.epub")

	_, err := svc.PutArtifact(ctx, oldDoc, "recap", artifact.Entry{Result: "r", Progress: 0.4})
	require.NoError(t, err)
	_, err = svc.PutNotebook(ctx, oldDoc, "notes", "")
	require.NoError(t, err)
	_, err = svc.Chats.Merge(oldDoc, []models.Chat{{ID: "c1", DocumentPath: oldDoc}})
	require.NoError(t, err)

	require.NoError(t, svc.MoveDocument(ctx, oldDoc, newDoc))

	list, err := svc.ListArtifacts(ctx, newDoc)
	require.NoError(t, err)
	require.Len(t, list, 1)
	nb, err := svc.GetNotebook(ctx, newDoc)
	require.NoError(t, err)
	assert.Equal(t, "notes", nb.Content)
	chatList, err := svc.ListChats(ctx, newDoc)
	require.NoError(t, err)
	assert.Len(t, chatList, 1)

	for _, name := range []string{pathstore.ChatIndex, pathstore.NotebookIndex, pathstore.ArtifactIndex} {
		_, err := svc.IndexRecord(ctx, name, newDoc)
		assert.NoError(t, err, name)
		_, err = svc.IndexRecord(ctx, name, oldDoc)
		assert.ErrorIs(t, err, apperr.ErrNotFound, name)
	}
	assert.Contains(t, ev.types, sse.TypeDocumentMoved)
}

func TestPutNotebook_IfMatch(t *testing.T) {
	svc, _, lib := newTestService(t)
	ctx := context.Background()
	doc := filepath.Join(lib, "a.epub")

	v1, err := svc.PutNotebook(ctx, doc, "one", "")
	require.NoError(t, err)
	_, err = svc.PutNotebook(ctx, doc, "two", "stale")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	v2, err := svc.PutNotebook(ctx, doc, "two", v1.Checksum)
	require.NoError(t, err)
	assert.NotEqual(t, v1.Checksum, v2.Checksum)
}

func TestValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ListArtifacts(ctx, "relative.epub")
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)
	_, err = svc.IndexRecord(ctx, "bogus", "/a.epub")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, svc.SetPosition(ctx, "/a.epub", 2, nil), apperr.ErrInvalidProgress)
}

func TestArtifactEvents(t *testing.T) {
	svc, ev, lib := newTestService(t)
	ctx := context.Background()
	doc := filepath.Join(lib, "a.epub")

	_, err := svc.PutArtifact(ctx, doc, "recap", artifact.Entry{Result: "r", Progress: 0.4})
	require.NoError(t, err)
	_, err = svc.UpdateArtifact(ctx, doc, "recap", "r2", 0.6, artifact.Meta{})
	require.NoError(t, err)
	require.NoError(t, svc.ClearArtifact(ctx, doc, "recap"))

	assert.Equal(t, []string{sse.TypeArtifactSaved, sse.TypeArtifactUpdated, sse.TypeArtifactCleared}, ev.types)
}

func TestDocumentRemoved_DropsIndexRecords(t *testing.T) {
	svc, ev, lib := newTestService(t)
	ctx := context.Background()
	doc := filepath.Join(lib, "a.epub")

	_, err := svc.PutArtifact(ctx, doc, "recap", artifact.Entry{Result: "r", Progress: 0.3})
	require.NoError(t, err)
	_, err = svc.PutNotebook(ctx, doc, "notes", "")
	require.NoError(t, err)
	_, err = svc.Chats.Merge(doc, []models.Chat{{ID: "c1", Title: "t"}})
	require.NoError(t, err)

	require.NoError(t, svc.DocumentRemoved(ctx, doc))

	for _, name := range []string{pathstore.ChatIndex, pathstore.NotebookIndex, pathstore.ArtifactIndex} {
		_, err := svc.IndexRecord(ctx, name, doc)
		assert.ErrorIs(t, err, apperr.ErrNotFound, name)
	}
	assert.Contains(t, ev.types, sse.TypeDocumentRemoved)
	_, err = os.Stat(docsettings.SidecarFile(doc, sidecar.NotebookFile))
	assert.NoError(t, err, "sidecar files stay for a returning document")
}
