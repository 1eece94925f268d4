// Package legacy moves conversations from the hash-directory store used by
// earlier releases into per-document storage, once.
package legacy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/chats"
	"github.com/starford/marginalia/internal/metrics"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/parser"
	"github.com/starford/marginalia/internal/settings"
	"github.com/starford/marginalia/internal/storage"
)

// CurrentVersion is the storage version written after a successful run.
const CurrentVersion = 1

const (
	// RootDir is the legacy store below the data directory.
	RootDir      = "conversations"
	backupSuffix = ".backup"
	ignoredExt   = ".old"
)

// State is the migrator's position in its state machine.
type State string

const (
	StateNeedsCheck     State = "needs_check"
	StateNoLegacyData   State = "no_legacy_data"
	StateNeedsMigration State = "needs_migration"
	StateInProgress     State = "in_progress"
	StateComplete       State = "complete"
	StateFailed         State = "failed"
)

// Settings is the persisted key/value state the migrator uses for its
// version marker and in-progress lock.
type Settings interface {
	GetInt(key string, def int) (int, error)
	SetInt(key string, v int) error
	GetBool(key string) (bool, error)
	SetBool(key string, v bool) error
	Delete(key string) error
	Flush() error
}

// ChatMerger receives the migrated chats of one document.
type ChatMerger interface {
	Merge(doc string, chats []models.Chat) (int, error)
}

// Migrator runs the legacy migration.
type Migrator struct {
	settings Settings
	files    storage.Provider
	chats    ChatMerger
	root     string
	logger   *slog.Logger
	metrics  *metrics.Collector
	exists   func(path string) bool
	now      func() time.Time

	// run serializes Check and Run; mu guards state and last so State
	// stays readable while a run is in progress.
	run   sync.Mutex
	mu    sync.Mutex
	state State
	last  *Result
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithMetrics records run outcomes on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(mg *Migrator) { mg.metrics = m }
}

// WithDocumentExists replaces the check for whether a document is still on disk.
func WithDocumentExists(fn func(path string) bool) Option {
	return func(mg *Migrator) { mg.exists = fn }
}

// New creates a Migrator for the legacy store under dataDir.
func New(dataDir string, st Settings, files storage.Provider, merger ChatMerger, logger *slog.Logger, opts ...Option) *Migrator {
	m := &Migrator{
		settings: st,
		files:    files,
		chats:    merger,
		root:     filepath.Join(dataDir, RootDir),
		logger:   logger,
		exists:   fileExists,
		now:      time.Now,
		state:    StateNeedsCheck,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Root returns the legacy store directory.
func (m *Migrator) Root() string { return m.root }

// BackupPath returns where the legacy store is moved after a run.
func (m *Migrator) BackupPath() string { return m.root + backupSuffix }

// State returns the current state.
func (m *Migrator) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Migrator) setState(st State) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	return st
}

// LastResult returns the result of the most recent Run, if any.
func (m *Migrator) LastResult() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Check decides whether a migration is needed. A store already at
// CurrentVersion is Complete; an absent or empty legacy root is marked
// current and reported as NoLegacyData.
func (m *Migrator) Check() (State, error) {
	m.run.Lock()
	defer m.run.Unlock()
	return m.check()
}

func (m *Migrator) check() (State, error) {
	version, err := m.settings.GetInt(settings.KeyStorageVersion, 0)
	if err != nil {
		return m.State(), fmt.Errorf("legacy: read version: %w", err)
	}
	if version >= CurrentVersion {
		return m.setState(StateComplete), nil
	}

	interrupted, err := m.settings.GetBool(settings.KeyMigrationInProgress)
	if err != nil {
		return m.State(), fmt.Errorf("legacy: read lock: %w", err)
	}
	if interrupted {
		m.logger.Warn("legacy: previous migration run was interrupted",
			slog.String("root", m.root))
	}

	files, err := m.itemFiles()
	if err != nil {
		return m.State(), err
	}
	if len(files) == 0 {
		if err := m.markCurrent(); err != nil {
			return m.State(), err
		}
		if interrupted {
			m.clearLock()
		}
		return m.setState(StateNoLegacyData), nil
	}
	m.setState(StateNeedsMigration)
	m.logger.Info("legacy: migration needed",
		slog.String("root", m.root), slog.Int("items", len(files)))
	return StateNeedsMigration, nil
}

// Run migrates the legacy store. It does nothing unless the store needs
// migration, and returns apperr.ErrConsentDeclined when consent is false.
// The version marker only advances when no item failed and the legacy
// root was moved to its backup location.
func (m *Migrator) Run(ctx context.Context, consent bool) (*Result, error) {
	m.run.Lock()
	defer m.run.Unlock()

	if st := m.State(); st == StateNeedsCheck || st == StateFailed {
		if _, err := m.check(); err != nil {
			return nil, err
		}
	}
	if st := m.State(); st != StateNeedsMigration {
		return &Result{State: st}, nil
	}
	if !consent {
		m.logger.Info("legacy: migration postponed, consent declined")
		return nil, apperr.ErrConsentDeclined
	}

	if err := m.settings.SetBool(settings.KeyMigrationInProgress, true); err != nil {
		return nil, fmt.Errorf("legacy: set lock: %w", err)
	}
	m.flush()
	m.setState(StateInProgress)
	defer m.clearLock()

	start := m.now()
	res := m.migrate(ctx)
	res.Duration = m.now().Sub(start)

	if res.Stats.Failed == 0 {
		if err := m.markCurrent(); err != nil {
			res.Stats.Failed++
			res.Errors = append(res.Errors, DocumentError{Err: err.Error()})
		}
	}
	res.State = StateComplete
	if res.Stats.Failed > 0 {
		res.State = StateFailed
	}
	m.mu.Lock()
	m.state = res.State
	m.last = res
	m.mu.Unlock()

	m.metrics.MigrationItems("migrated", res.Stats.Migrated)
	m.metrics.MigrationItems("skipped", res.Stats.Skipped)
	m.metrics.MigrationItems("failed", res.Stats.Failed)
	m.metrics.MigrationItems("corrupt", res.Stats.Corrupt)
	m.metrics.MigrationRun(string(res.State))
	m.logger.Info("legacy: migration finished",
		slog.String("state", string(res.State)),
		slog.Int("total", res.Stats.Total),
		slog.Int("migrated", res.Stats.Migrated),
		slog.Int("skipped", res.Stats.Skipped),
		slog.Int("failed", res.Stats.Failed),
		slog.Int("corrupt", res.Stats.Corrupt),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func (m *Migrator) migrate(ctx context.Context) *Result {
	res := &Result{}
	groups, order := m.scan(res)

	for i, doc := range order {
		items := groups[doc]
		if err := ctx.Err(); err != nil {
			for _, d := range order[i:] {
				res.Stats.Failed += len(groups[d])
			}
			res.Errors = append(res.Errors, DocumentError{Err: "interrupted: " + err.Error()})
			return res
		}
		if doc != chats.GeneralDocument && !m.exists(doc) {
			res.Stats.Skipped += len(items)
			m.logger.Info("legacy: skipping chats of missing document",
				slog.String("document", doc), slog.Int("items", len(items)))
			continue
		}
		if _, err := m.chats.Merge(doc, items); err != nil {
			res.Stats.Failed += len(items)
			res.Errors = append(res.Errors, DocumentError{Document: doc, Err: err.Error()})
			m.logger.Error("legacy: merge failed",
				slog.String("document", doc), slog.String("error", err.Error()))
			continue
		}
		res.Stats.Migrated += len(items)
	}

	if res.Stats.Failed > 0 {
		return res
	}
	if err := m.backup(); err != nil {
		res.Stats.Failed++
		res.Errors = append(res.Errors, DocumentError{Err: err.Error()})
		m.logger.Error("legacy: backup failed",
			slog.String("root", m.root), slog.String("error", err.Error()))
	}
	return res
}

// scan parses every item and groups the chats by document path.
func (m *Migrator) scan(res *Result) (map[string][]models.Chat, []string) {
	groups := map[string][]models.Chat{}
	files, err := m.itemFiles()
	if err != nil {
		res.Stats.Failed++
		res.Errors = append(res.Errors, DocumentError{Err: err.Error()})
		return groups, nil
	}
	for _, f := range files {
		res.Stats.Total++
		data, err := m.files.Read(f)
		if err != nil {
			res.Stats.Failed++
			res.Errors = append(res.Errors, DocumentError{Item: f, Err: err.Error()})
			continue
		}
		it, err := parser.ParseItem(data)
		if err != nil {
			res.Stats.Corrupt++
			res.Errors = append(res.Errors, DocumentError{Item: f, Err: err.Error()})
			m.logger.Warn("legacy: unreadable item",
				slog.String("item", f), slog.String("error", err.Error()))
			continue
		}
		ts := it.Timestamp
		if it.BadTimestamp != "" {
			if info, err := os.Stat(f); err == nil {
				ts = info.ModTime().UTC()
			}
			m.logger.Warn("legacy: unparseable timestamp, using file time",
				slog.String("item", f), slog.String("timestamp", it.BadTimestamp))
		}
		id := it.ID
		if id == "" {
			// Derived from the content so a retried run merges the same id.
			id = uuid.NewSHA1(uuid.NameSpaceURL, data).String()
		}
		groups[it.DocumentPath] = append(groups[it.DocumentPath], models.Chat{
			ID:           id,
			Title:        it.Title,
			DocumentPath: it.DocumentPath,
			Model:        it.Model,
			Timestamp:    ts,
			Transcript:   it.Transcript,
		})
	}
	order := make([]string, 0, len(groups))
	for doc := range groups {
		order = append(order, doc)
	}
	sort.Strings(order)
	return groups, order
}

// itemFiles lists the legacy items, sorted. A missing root has none.
func (m *Migrator) itemFiles() ([]string, error) {
	dirs, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("legacy: read root: %w", err)
	}
	var out []string
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(m.root, d.Name()))
		if err != nil {
			return nil, fmt.Errorf("legacy: read %s: %w", d.Name(), err)
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasSuffix(e.Name(), ignoredExt) {
				continue
			}
			out = append(out, filepath.Join(m.root, d.Name(), e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// backup moves the legacy root aside, replacing any earlier backup.
func (m *Migrator) backup() error {
	dst := m.BackupPath()
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("legacy: remove stale backup: %w", err)
	}
	if err := m.files.Rename(m.root, dst); err != nil {
		return fmt.Errorf("legacy: backup: %w", err)
	}
	m.logger.Info("legacy: store backed up", slog.String("backup", dst))
	return nil
}

func (m *Migrator) markCurrent() error {
	if err := m.settings.SetInt(settings.KeyStorageVersion, CurrentVersion); err != nil {
		return fmt.Errorf("legacy: write version: %w", err)
	}
	m.flush()
	return nil
}

func (m *Migrator) clearLock() {
	if err := m.settings.Delete(settings.KeyMigrationInProgress); err != nil {
		m.logger.Error("legacy: clear lock failed", slog.String("error", err.Error()))
		return
	}
	m.flush()
}

func (m *Migrator) flush() {
	if err := m.settings.Flush(); err != nil {
		m.logger.Warn("legacy: settings flush failed", slog.String("error", err.Error()))
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
