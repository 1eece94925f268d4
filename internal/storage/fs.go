package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/starford/marginalia/internal/apperr"
)

// FS implements Provider backed by the local file system.
type FS struct {
	// rename is swappable so tests can force the copy fallback.
	rename func(oldPath, newPath string) error
}

// NewFS creates a new FS provider.
func NewFS() *FS {
	return &FS{rename: os.Rename}
}

// NewFSWithRename creates an FS whose rename step is replaced by fn.
func NewFSWithRename(fn func(oldPath, newPath string) error) *FS {
	return &FS{rename: fn}
}

// checkPath rejects relative or empty paths. Every path handled here is a
// document path or derived from one, so it must be absolute.
func checkPath(p string) (string, error) {
	if p == "" || !filepath.IsAbs(p) {
		return "", fmt.Errorf("storage: %w: %q", apperr.ErrInvalidPath, p)
	}
	return filepath.Clean(p), nil
}

// Read returns the raw bytes of a file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := checkPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(path string, content []byte) error {
	abs, err := checkPath(path)
	if err != nil {
		return err
	}
	return writeAtomic(abs, content)
}

func writeAtomic(abs string, content []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".marginalia-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes a file.
func (f *FS) Delete(path string) error {
	abs, err := checkPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists.
func (f *FS) Exists(path string) bool {
	abs, err := checkPath(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Move renames oldPath to newPath. When the rename fails (typically EXDEV on
// a cross-filesystem move) the file is copied and the source removed.
func (f *FS) Move(oldPath, newPath string) (MoveMethod, error) {
	absOld, err := checkPath(oldPath)
	if err != nil {
		return "", err
	}
	absNew, err := checkPath(newPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir for move: %w", err)
	}
	renameErr := f.rename(absOld, absNew)
	if renameErr == nil {
		return MovedByRename, nil
	}

	data, err := os.ReadFile(absOld)
	if err != nil {
		return "", fmt.Errorf("storage: move %s: rename: %v; read source: %w", oldPath, renameErr, err)
	}
	if err := writeAtomic(absNew, data); err != nil {
		return "", fmt.Errorf("storage: move %s: copy: %w", oldPath, err)
	}
	if err := os.Remove(absOld); err != nil {
		return MovedByCopy, fmt.Errorf("storage: move %s: remove source: %w", oldPath, err)
	}
	return MovedByCopy, nil
}

// Rename renames a file or directory with no fallback.
func (f *FS) Rename(oldPath, newPath string) error {
	absOld, err := checkPath(oldPath)
	if err != nil {
		return err
	}
	absNew, err := checkPath(newPath)
	if err != nil {
		return err
	}
	if err := f.rename(absOld, absNew); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}
