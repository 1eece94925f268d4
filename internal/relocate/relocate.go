// Package relocate keeps document-keyed state consistent when the host moves
// or renames a document. It wraps the host's single move entry point so
// that sidecar files move before the host purges the old sidecar directory,
// and the document indices follow the new path afterwards.
package relocate

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/marginalia/internal/metrics"
	"github.com/starford/marginalia/internal/sidecar"
)

// Mover handles a document that moved from oldPath to newPath.
type Mover interface {
	MoveDocument(oldPath, newPath string) error
}

// MoverFunc adapts a function to Mover.
type MoverFunc func(oldPath, newPath string) error

// MoveDocument calls f.
func (f MoverFunc) MoveDocument(oldPath, newPath string) error { return f(oldPath, newPath) }

// Hook is the host's document-move entry point. Callers always go through
// the hook so an installed interceptor sees every move.
type Hook struct {
	mu    sync.Mutex
	mover Mover
}

// NewHook creates a hook dispatching to the host's mover.
func NewHook(host Mover) *Hook {
	return &Hook{mover: host}
}

// Current returns the mover the hook dispatches to.
func (h *Hook) Current() Mover {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mover
}

// MoveDocument dispatches to the current mover.
func (h *Hook) MoveDocument(oldPath, newPath string) error {
	return h.Current().MoveDocument(oldPath, newPath)
}

// SidecarMover moves sidecar files between document locations.
type SidecarMover interface {
	MoveSidecars(oldDoc, newDoc string) []sidecar.FileResult
}

// IndexRekeyer rekeys every document index.
type IndexRekeyer interface {
	RekeyAll(oldPath, newPath string) error
}

// Step names a phase of an intercepted move.
type Step string

const (
	StepSidecars Step = "sidecars"
	StepHost     Step = "host"
	StepRekey    Step = "rekey"
)

// MoveError reports a failed phase of a document move.
type MoveError struct {
	Old  string
	New  string
	Step Step
	Err  error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("relocate %s -> %s: %s: %v", e.Old, e.New, e.Step, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }

// Interceptor is the installed wrapper around the host mover.
type Interceptor struct {
	wrapped  Mover
	sidecars SidecarMover
	indexes  IndexRekeyer
	logger   *slog.Logger
	metrics  *metrics.Collector
	onMoved  func(oldPath, newPath string)
}

// Option configures an Interceptor at install time.
type Option func(*Interceptor)

// WithMetrics records move outcomes.
func WithMetrics(m *metrics.Collector) Option {
	return func(ic *Interceptor) { ic.metrics = m }
}

// WithOnMoved registers a callback run after every move, successful or not.
func WithOnMoved(fn func(oldPath, newPath string)) Option {
	return func(ic *Interceptor) { ic.onMoved = fn }
}

// Install wraps the hook's mover exactly once. Installing again returns the
// interceptor already in place and ignores opts.
func Install(hook *Hook, sidecars SidecarMover, indexes IndexRekeyer, logger *slog.Logger, opts ...Option) *Interceptor {
	hook.mu.Lock()
	defer hook.mu.Unlock()

	if ic, ok := hook.mover.(*Interceptor); ok {
		logger.Debug("relocate: interceptor already installed")
		return ic
	}
	ic := &Interceptor{
		wrapped:  hook.mover,
		sidecars: sidecars,
		indexes:  indexes,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(ic)
	}
	hook.mover = ic
	logger.Info("relocate: interceptor installed")
	return ic
}

// MoveDocument moves sidecars, runs the host's own move logic, then rekeys
// the indices. The host's move is authoritative: failures are logged and
// returned but nothing is rolled back, and the rekey runs regardless.
func (ic *Interceptor) MoveDocument(oldPath, newPath string) error {
	if oldPath == "" || newPath == "" || oldPath == newPath {
		return ic.wrapped.MoveDocument(oldPath, newPath)
	}

	var errs []error

	for _, r := range ic.sidecars.MoveSidecars(oldPath, newPath) {
		if r.Err != nil {
			errs = append(errs, &MoveError{Old: oldPath, New: newPath, Step: StepSidecars, Err: r.Err})
		}
	}

	if err := ic.wrapped.MoveDocument(oldPath, newPath); err != nil {
		ic.logger.Error("relocate: host move failed",
			slog.String("old_path", oldPath),
			slog.String("new_path", newPath),
			slog.String("error", err.Error()))
		errs = append(errs, &MoveError{Old: oldPath, New: newPath, Step: StepHost, Err: err})
	}

	rekeyErr := ic.indexes.RekeyAll(oldPath, newPath)
	ic.metrics.IndexRekeyed(rekeyErr == nil)
	if rekeyErr != nil {
		errs = append(errs, &MoveError{Old: oldPath, New: newPath, Step: StepRekey, Err: rekeyErr})
	}

	err := errors.Join(errs...)
	ic.metrics.DocumentMoved(err == nil)
	ic.logger.Info("relocate: document moved",
		slog.String("old_path", oldPath),
		slog.String("new_path", newPath),
		slog.Bool("clean", err == nil))
	if ic.onMoved != nil {
		ic.onMoved(oldPath, newPath)
	}
	return err
}
