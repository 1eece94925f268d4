package chats

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marginalia/internal/docsettings"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/pathstore"
	"github.com/starford/marginalia/internal/settings"
	"github.com/starford/marginalia/internal/storage"
)

func testStore(t *testing.T) (*Store, *pathstore.Indexes, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := settings.Open(filepath.Join(dir, "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ix := pathstore.NewIndexes(db, logger)
	fsys := storage.NewFS()
	s := New(docsettings.NewHost(fsys, logger), fsys, filepath.Join(dir, "general_chats.json"), ix.Chats, logger)
	return s, ix, dir
}

func chat(id string, ts int64) models.Chat {
	return models.Chat{ID: id, Title: "t-" + id, Timestamp: time.Unix(ts, 0).UTC(), Transcript: "hi"}
}

func TestMerge_Document(t *testing.T) {
	s, ix, dir := testStore(t)
	doc := filepath.Join(dir, "a.epub")

	n, err := s.Merge(doc, []models.Chat{chat("1", 20), chat("2", 10)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	edited := chat("1", 20)
	edited.Transcript = "changed"
	n, err = s.Merge(doc, []models.Chat{edited, chat("3", 30)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := s.List(doc)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"2", "1", "3"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, "hi", list[1].Transcript)

	rec, ok, err := ix.Chats.Get(doc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, rec.Count)
}

func TestMerge_Idempotent(t *testing.T) {
	s, _, dir := testStore(t)
	doc := filepath.Join(dir, "a.epub")
	batch := []models.Chat{chat("1", 1), chat("2", 2)}

	_, err := s.Merge(doc, batch)
	require.NoError(t, err)
	n, err := s.Merge(doc, batch)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMerge_General(t *testing.T) {
	s, ix, _ := testStore(t)

	n, err := s.Merge(GeneralDocument, []models.Chat{chat("g1", 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := s.List(GeneralDocument)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "g1", list[0].ID)

	paths, err := ix.Chats.Paths()
	require.NoError(t, err)
	assert.Empty(t, paths)
}
