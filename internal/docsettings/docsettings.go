// Package docsettings implements the host side of per-document storage: the
// sidecar directory convention, the host-owned metadata file, and the
// host's own bookkeeping when a document moves.
package docsettings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/storage"
)

const (
	// SidecarSuffix is appended to the document stem to name its sidecar directory.
	SidecarSuffix = ".sdr"
	// MetadataFile is the host-owned settings file inside the sidecar
	// directory, keyed by document extension through SidecarFile.
	MetadataFile = "metadata.json"
)

// SidecarDir returns the sidecar directory for a document:
// /books/novel.epub → /books/novel.sdr
func SidecarDir(docPath string) string {
	dir, base := filepath.Split(filepath.Clean(docPath))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+SidecarSuffix)
}

// SidecarFile returns the path of name inside the document's sidecar
// directory. Documents sharing a stem share the directory, so the file name
// carries the document's extension:
// (/books/novel.epub, notebook.md) → /books/novel.sdr/notebook.epub.md
func SidecarFile(docPath, name string) string {
	ext := docExt(docPath)
	if ext == "" {
		return filepath.Join(SidecarDir(docPath), name)
	}
	nameExt := filepath.Ext(name)
	return filepath.Join(SidecarDir(docPath), strings.TrimSuffix(name, nameExt)+"."+ext+nameExt)
}

func docExt(docPath string) string {
	return strings.TrimPrefix(filepath.Ext(filepath.Base(docPath)), ".")
}

// ownedBy reports whether a file name in a sidecar directory was produced
// by SidecarFile for docPath.
func ownedBy(name, docPath string) bool {
	parts := strings.Split(name, ".")
	ext := docExt(docPath)
	if ext == "" {
		return len(parts) == 2
	}
	return len(parts) >= 3 && parts[len(parts)-2] == ext
}

// IsSidecarDir reports whether path names a sidecar directory.
func IsSidecarDir(path string) bool {
	return strings.HasSuffix(filepath.Base(path), SidecarSuffix)
}

// Metadata is the host-owned per-document settings record.
type Metadata struct {
	// Chats holds saved conversations keyed by chat id.
	Chats map[string]models.Chat `json:"chats,omitempty"`
	// HiddenFlows lists structural sections excluded from the reading flow.
	HiddenFlows []string `json:"hidden_flows,omitempty"`
	// LastPercent is the last recorded reading position.
	LastPercent float64 `json:"last_percent,omitempty"`
}

// Host reads and writes document metadata and handles document moves.
type Host struct {
	store  storage.Provider
	logger *slog.Logger
}

// NewHost creates a Host on store.
func NewHost(store storage.Provider, logger *slog.Logger) *Host {
	return &Host{store: store, logger: logger}
}

// Load returns the metadata for docPath. A missing file yields empty metadata.
func (h *Host) Load(docPath string) (*Metadata, error) {
	data, err := h.store.Read(SidecarFile(docPath, MetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Metadata{}, nil
		}
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("docsettings: decode %s: %w", docPath, err)
	}
	return &meta, nil
}

// Save writes the metadata for docPath and flushes it to disk.
func (h *Host) Save(docPath string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("docsettings: encode: %w", err)
	}
	return h.store.Write(SidecarFile(docPath, MetadataFile), data)
}

// MoveDocument is the host's "document moved" hook. It carries the host
// metadata file over to the new sidecar directory and then purges every
// file of the old document from the old sidecar directory, including files
// it does not own. The directory itself is removed once no other document
// keeps files in it.
func (h *Host) MoveDocument(oldPath, newPath string) error {
	if filepath.Clean(oldPath) == filepath.Clean(newPath) {
		return nil
	}
	oldMeta := SidecarFile(oldPath, MetadataFile)
	if h.store.Exists(oldMeta) {
		if _, err := h.store.Move(oldMeta, SidecarFile(newPath, MetadataFile)); err != nil {
			return fmt.Errorf("docsettings: move metadata: %w", err)
		}
	}
	if err := purge(oldPath); err != nil {
		return err
	}
	h.logger.Debug("docsettings: location updated",
		slog.String("old_path", oldPath),
		slog.String("new_path", newPath))
	return nil
}

func purge(docPath string) error {
	dir := SidecarDir(docPath)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("docsettings: purge %s: %w", dir, err)
	}
	left := 0
	for _, e := range entries {
		if e.IsDir() || !ownedBy(e.Name(), docPath) {
			left++
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("docsettings: purge %s: %w", dir, err)
		}
	}
	if left == 0 {
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("docsettings: purge %s: %w", dir, err)
		}
	}
	return nil
}
