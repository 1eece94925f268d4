// Package pathstore maps document paths to small typed index records.
package pathstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Backend is the persisted settings store a Store writes through.
type Backend interface {
	GetRecord(namespace, path string) ([]byte, bool, error)
	PutRecord(namespace, path string, record []byte) error
	DeleteRecord(namespace, path string) error
	RekeyRecord(namespace, oldPath, newPath string) (bool, error)
	RecordPaths(namespace string) ([]string, error)
	Flush() error
}

// Store is one named path → record mapping.
type Store[T any] struct {
	namespace string
	backend   Backend
	logger    *slog.Logger
}

// New returns a Store persisting records of type T under namespace.
func New[T any](namespace string, backend Backend, logger *slog.Logger) *Store[T] {
	return &Store[T]{namespace: namespace, backend: backend, logger: logger}
}

// Namespace returns the store's name.
func (s *Store[T]) Namespace() string { return s.namespace }

// Get returns the record for path. Records that do not decode into T are
// dropped and reported absent.
func (s *Store[T]) Get(path string) (T, bool, error) {
	var zero T
	raw, ok, err := s.backend.GetRecord(s.namespace, path)
	if err != nil || !ok {
		return zero, false, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var rec T
	if err := dec.Decode(&rec); err != nil {
		s.logger.Warn("pathstore: dropping malformed record",
			slog.String("index", s.namespace),
			slog.String("path", path),
			slog.String("error", err.Error()))
		if delErr := s.backend.DeleteRecord(s.namespace, path); delErr == nil {
			s.flush()
		}
		return zero, false, nil
	}
	return rec, true, nil
}

// Put stores rec under path.
func (s *Store[T]) Put(path string, rec T) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("pathstore: %s: encode: %w", s.namespace, err)
	}
	if err := s.backend.PutRecord(s.namespace, path, raw); err != nil {
		return fmt.Errorf("pathstore: %s: %w", s.namespace, err)
	}
	s.flush()
	return nil
}

// Delete removes the record for path. Deleting an absent record is a no-op.
func (s *Store[T]) Delete(path string) error {
	if err := s.backend.DeleteRecord(s.namespace, path); err != nil {
		return fmt.Errorf("pathstore: %s: %w", s.namespace, err)
	}
	s.flush()
	return nil
}

// Rekey moves the record at oldPath to newPath. It is a no-op when oldPath
// has no record.
func (s *Store[T]) Rekey(oldPath, newPath string) error {
	moved, err := s.backend.RekeyRecord(s.namespace, oldPath, newPath)
	if err != nil {
		return fmt.Errorf("pathstore: %s: %w", s.namespace, err)
	}
	if moved {
		s.logger.Debug("pathstore: rekeyed",
			slog.String("index", s.namespace),
			slog.String("old_path", oldPath),
			slog.String("new_path", newPath))
		s.flush()
	}
	return nil
}

// Paths returns every document path with a record.
func (s *Store[T]) Paths() ([]string, error) {
	return s.backend.RecordPaths(s.namespace)
}

// flush has no distinct "storage unavailable" outcome: a failure is logged
// and the write is considered possibly lost.
func (s *Store[T]) flush() {
	if err := s.backend.Flush(); err != nil {
		s.logger.Warn("pathstore: flush failed",
			slog.String("index", s.namespace),
			slog.String("error", err.Error()))
	}
}
