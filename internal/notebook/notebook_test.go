package notebook

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	return New(storage.NewFS(), ix.Notebooks, logger), ix, dir
}

func TestNotebook_WriteReadDelete(t *testing.T) {
	s, ix, dir := testStore(t)
	doc := filepath.Join(dir, "a.epub")

	require.NoError(t, s.Write(doc, "# Chapter 1\nCall me Ishmael."))
	got, ok, err := s.Read(doc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "# Chapter 1\nCall me Ishmael.", got)

	rec, ok, err := ix.Notebooks.Get(doc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, len(got), rec.Size)

	require.NoError(t, s.Delete(doc))
	_, ok, err = s.Read(doc)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = ix.Notebooks.Get(doc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNotebook_EmptyWriteDeletes(t *testing.T) {
	s, ix, dir := testStore(t)
	doc := filepath.Join(dir, "a.epub")

	require.NoError(t, s.Write(doc, "x"))
	require.NoError(t, s.Write(doc, ""))
	_, err := os.Stat(Path(doc))
	assert.True(t, os.IsNotExist(err))
	_, ok, err := ix.Notebooks.Get(doc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNotebook_ReadRepairsIndex(t *testing.T) {
	s, ix, dir := testStore(t)
	doc := filepath.Join(dir, "a.epub")

	// File written outside the store.
	require.NoError(t, os.MkdirAll(filepath.Dir(Path(doc)), 0o755))
	require.NoError(t, os.WriteFile(Path(doc), []byte("notes"), 0o644))
	_, ok, err := s.Read(doc)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = ix.Notebooks.Get(doc)
	require.NoError(t, err)
	assert.True(t, ok)

	// File removed outside the store.
	require.NoError(t, os.Remove(Path(doc)))
	_, ok, err = s.Read(doc)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = ix.Notebooks.Get(doc)
	require.NoError(t, err)
	assert.False(t, ok)
}
