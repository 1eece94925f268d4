package docsettings

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/storage"
)

func testHost(t *testing.T) (*Host, string) {
	t.Helper()
	return NewHost(storage.NewFS(), slog.New(slog.NewJSONHandler(io.Discard, nil))), t.TempDir()
}

func TestSidecarDir(t *testing.T) {
	cases := map[string]string{
		"/books/novel.epub":     "/books/novel.sdr",
		"/books/a.b/c.pdf":      "/books/a.b/c.sdr",
		"/books/no-extension":   "/books/no-extension.sdr",
		"/books/archive.tar.gz": "/books/archive.tar.sdr",
	}
	for doc, want := range cases {
		if got := SidecarDir(doc); got != want {
			t.Errorf("SidecarDir(%q) = %q, want %q", doc, got, want)
		}
	}
	if !IsSidecarDir("/books/novel.sdr") || IsSidecarDir("/books/novel.epub") {
		t.Error("IsSidecarDir misclassifies")
	}
}

func TestLoadMissingIsEmpty(t *testing.T) {
	h, dir := testHost(t)
	meta, err := h.Load(filepath.Join(dir, "none.epub"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(meta.Chats) != 0 || len(meta.HiddenFlows) != 0 {
		t.Errorf("expected empty metadata, got %+v", meta)
	}
}

func TestSaveAndLoad(t *testing.T) {
	h, dir := testHost(t)
	doc := filepath.Join(dir, "book.epub")
	meta := &Metadata{
		Chats:       map[string]models.Chat{"c1": {ID: "c1", Title: "First"}},
		HiddenFlows: []string{"appendix"},
	}
	if err := h.Save(doc, meta); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := h.Load(doc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Chats["c1"].Title != "First" || len(got.HiddenFlows) != 1 {
		t.Errorf("round trip lost data: %+v", got)
	}
}

func TestMoveDocument_PurgesOldSidecar(t *testing.T) {
	h, dir := testHost(t)
	oldDoc := filepath.Join(dir, "old.epub")
	newDoc := filepath.Join(dir, "shelf", "new.epub")
	if err := h.Save(oldDoc, &Metadata{LastPercent: 0.4}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	stray := SidecarFile(oldDoc, "notebook.md")
	_ = os.WriteFile(stray, []byte("notes"), 0o644)

	if err := h.MoveDocument(oldDoc, newDoc); err != nil {
		t.Fatalf("MoveDocument: %v", err)
	}
	if _, err := os.Stat(SidecarDir(oldDoc)); !os.IsNotExist(err) {
		t.Error("old sidecar dir should be purged")
	}
	got, _ := h.Load(newDoc)
	if got.LastPercent != 0.4 {
		t.Errorf("metadata not moved: %+v", got)
	}
	if _, err := os.Stat(SidecarFile(newDoc, "notebook.md")); !os.IsNotExist(err) {
		t.Error("host must not carry files it does not own")
	}
}

func TestSidecarFile_KeyedByExtension(t *testing.T) {
	cases := map[[2]string]string{
		{"/books/novel.epub", "notebook.md"}:      "/books/novel.sdr/notebook.epub.md",
		{"/books/novel.pdf", "metadata.json"}:     "/books/novel.sdr/metadata.pdf.json",
		{"/books/archive.tar.gz", "aliases.json"}: "/books/archive.tar.sdr/aliases.gz.json",
		{"/books/no-extension", "notebook.md"}:    "/books/no-extension.sdr/notebook.md",
	}
	for in, want := range cases {
		if got := SidecarFile(in[0], in[1]); got != want {
			t.Errorf("SidecarFile(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestMoveDocument_KeepsSiblingWithSameStem(t *testing.T) {
	h, dir := testHost(t)
	epub := filepath.Join(dir, "a.epub")
	pdf := filepath.Join(dir, "a.pdf")
	moved := filepath.Join(dir, "shelf", "a.epub")
	if SidecarDir(epub) != SidecarDir(pdf) {
		t.Fatal("same stem should share a sidecar dir")
	}
	if err := h.Save(epub, &Metadata{LastPercent: 0.2}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := h.Save(pdf, &Metadata{LastPercent: 0.7}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.WriteFile(SidecarFile(pdf, "notebook.md"), []byte("pdf notes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(SidecarFile(epub, "notebook.md"), []byte("epub notes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := h.MoveDocument(epub, moved); err != nil {
		t.Fatalf("MoveDocument: %v", err)
	}

	got, err := h.Load(pdf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LastPercent != 0.7 {
		t.Errorf("sibling metadata lost: %+v", got)
	}
	if data, err := os.ReadFile(SidecarFile(pdf, "notebook.md")); err != nil || string(data) != "pdf notes" {
		t.Errorf("sibling notebook lost: %q %v", data, err)
	}
	if _, err := os.Stat(SidecarFile(epub, "notebook.md")); !os.IsNotExist(err) {
		t.Error("moved document's files should be purged")
	}
	if got, _ := h.Load(moved); got.LastPercent != 0.2 {
		t.Errorf("metadata not moved: %+v", got)
	}
}
