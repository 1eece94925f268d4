// Package storage provides the file primitives used for sidecar and blob storage.
package storage

// Provider is the interface for file operations on absolute paths.
type Provider interface {
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Delete removes the file at path. Missing files are not an error.
	Delete(path string) error
	// Exists reports whether a regular file or directory exists at path.
	Exists(path string) bool
	// Move relocates oldPath to newPath, copying across filesystems when rename fails.
	Move(oldPath, newPath string) (MoveMethod, error)
	// Rename renames oldPath to newPath without any fallback.
	Rename(oldPath, newPath string) error
}

// MoveMethod records how a Move was carried out.
type MoveMethod string

const (
	MovedByRename MoveMethod = "rename"
	MovedByCopy   MoveMethod = "copy"
)
