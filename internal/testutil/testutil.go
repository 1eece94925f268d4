// Package testutil provides shared test helpers that wire the stores and
// the service over a temporary directory.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/marginalia/internal/artifact"
	"github.com/starford/marginalia/internal/chats"
	"github.com/starford/marginalia/internal/docsettings"
	"github.com/starford/marginalia/internal/notebook"
	"github.com/starford/marginalia/internal/pathstore"
	"github.com/starford/marginalia/internal/relocate"
	"github.com/starford/marginalia/internal/service"
	"github.com/starford/marginalia/internal/settings"
	"github.com/starford/marginalia/internal/sidecar"
	"github.com/starford/marginalia/internal/storage"
)

// Env is a fully wired service over a temporary library.
type Env struct {
	Service *service.Service
	DB      *settings.DB
	Indexes *pathstore.Indexes
	Hook    *relocate.Hook
	Library string
	DataDir string
}

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestDB opens a settings database that is closed on cleanup.
func TestDB(t *testing.T, dir string) *settings.DB {
	t.Helper()
	db, err := settings.Open(filepath.Join(dir, "settings.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewEnv wires the stores, the relocation hook with its interceptor and
// the service.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	root := t.TempDir()
	e := &Env{
		Library: filepath.Join(root, "library"),
		DataDir: filepath.Join(root, "data"),
	}
	for _, d := range []string{e.Library, e.DataDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	logger := Logger()
	e.DB = TestDB(t, e.DataDir)

	fsys := storage.NewFS()
	e.Indexes = pathstore.NewIndexes(e.DB, logger)
	host := docsettings.NewHost(fsys, logger)
	e.Hook = relocate.NewHook(host)
	relocate.Install(e.Hook, sidecar.NewMigrator(fsys, logger, nil), e.Indexes, logger)

	e.Service = service.New(service.Deps{
		Cache:     artifact.NewCache(fsys, e.Indexes.Artifacts, logger, nil),
		Notebooks: notebook.New(fsys, e.Indexes.Notebooks, logger),
		Chats:     chats.New(host, fsys, filepath.Join(e.DataDir, "general_chats.json"), e.Indexes.Chats, logger),
		Host:      host,
		Indexes:   e.Indexes,
		Mover:     e.Hook,
	})
	return e
}
