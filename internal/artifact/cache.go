package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/docsettings"
	"github.com/starford/marginalia/internal/metrics"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/sidecar"
	"github.com/starford/marginalia/internal/storage"
)

const blobVersion = 1

// blob is the on-disk layout of a document's artifact cache file.
type blob struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// IndexStore is the artifact index the cache keeps in sync.
type IndexStore interface {
	Get(path string) (models.ArtifactIndexRecord, bool, error)
	Put(path string, rec models.ArtifactIndexRecord) error
	Delete(path string) error
}

// Cache stores artifacts in each document's sidecar directory.
//
// Every operation is a read-modify-write of one file, serialized by mu.
type Cache struct {
	store   storage.Provider
	index   IndexStore
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu sync.Mutex
}

// NewCache creates a Cache.
func NewCache(store storage.Provider, index IndexStore, logger *slog.Logger, m *metrics.Collector) *Cache {
	return &Cache{
		store:   store,
		index:   index,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the entry for (doc, action).
func (c *Cache) Get(doc, action string) (Entry, bool, error) {
	if err := checkKey(doc, action); err != nil {
		return Entry{}, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.load(doc)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := b.Entries[action]
	if !ok || e.Result == "" {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Put stores a freshly generated artifact, replacing any previous entry.
// It refuses to lower the progress of an existing entry; use Redo for an
// explicit regeneration at an earlier position.
func (c *Cache) Put(doc, action string, e Entry) (Entry, error) {
	if err := checkKey(doc, action); err != nil {
		return Entry{}, err
	}
	if err := checkEntry(e.Result, e.Progress); err != nil {
		return Entry{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.load(doc)
	if err != nil {
		return Entry{}, err
	}
	if cur, ok := b.Entries[action]; ok && cur.Result != "" && e.Progress < cur.Progress {
		return Entry{}, fmt.Errorf("artifact: put %s at %.3f below cached %.3f: %w",
			action, e.Progress, cur.Progress, apperr.ErrProgressRegression)
	}
	e.PreviousProgress = nil
	if e.Timestamp.IsZero() {
		e.Timestamp = c.now()
	}
	b.Entries[action] = e
	if err := c.save(doc, b); err != nil {
		return Entry{}, err
	}
	c.metrics.ArtifactWritten("put")
	return e, nil
}

// Update extends an existing artifact to newProgress. The entry's current
// progress is kept as PreviousProgress.
func (c *Cache) Update(doc, action, result string, newProgress float64, meta Meta) (Entry, error) {
	if err := checkKey(doc, action); err != nil {
		return Entry{}, err
	}
	if err := checkEntry(result, newProgress); err != nil {
		return Entry{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.load(doc)
	if err != nil {
		return Entry{}, err
	}
	cur, ok := b.Entries[action]
	if !ok || cur.Result == "" {
		return Entry{}, fmt.Errorf("artifact: update %s: %w", action, apperr.ErrNotFound)
	}
	if newProgress < cur.Progress {
		return Entry{}, fmt.Errorf("artifact: update %s to %.3f below cached %.3f: %w",
			action, newProgress, cur.Progress, apperr.ErrProgressRegression)
	}
	prev := cur.Progress
	e := Entry{
		Result:           result,
		Progress:         newProgress,
		PreviousProgress: &prev,
		Timestamp:        c.now(),
		Meta:             meta,
	}
	b.Entries[action] = e
	if err := c.save(doc, b); err != nil {
		return Entry{}, err
	}
	c.metrics.ArtifactWritten("update")
	return e, nil
}

// Redo discards the cached artifact and stores one regenerated at
// progress, which may be earlier than the cached coverage.
func (c *Cache) Redo(doc, action, result string, progress float64, meta Meta) (Entry, error) {
	if err := checkKey(doc, action); err != nil {
		return Entry{}, err
	}
	if err := checkEntry(result, progress); err != nil {
		return Entry{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.load(doc)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Result: result, Progress: progress, Timestamp: c.now(), Meta: meta}
	b.Entries[action] = e
	if err := c.save(doc, b); err != nil {
		return Entry{}, err
	}
	c.metrics.ArtifactWritten("redo")
	return e, nil
}

// Clear deletes the entry for (doc, action). Clearing an absent entry is a no-op.
func (c *Cache) Clear(doc, action string) error {
	if err := checkKey(doc, action); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.load(doc)
	if err != nil {
		return err
	}
	if _, ok := b.Entries[action]; !ok {
		return nil
	}
	delete(b.Entries, action)
	if err := c.save(doc, b); err != nil {
		return err
	}
	c.metrics.ArtifactWritten("clear")
	return nil
}

// ClearAll removes every artifact of doc, including the cache file.
func (c *Cache) ClearAll(doc string) error {
	if err := checkDoc(doc); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(cachePath(doc)); err != nil {
		return err
	}
	if err := c.index.Delete(doc); err != nil {
		c.logger.Warn("artifact: index delete failed",
			slog.String("path", doc), slog.String("error", err.Error()))
	}
	c.metrics.ArtifactWritten("clear_all")
	return nil
}

// ListAvailable returns every non-empty artifact of doc: legacy slots first,
// then actions by key. It also repairs the artifact index for doc, which
// backfills documents cached before the index existed.
func (c *Cache) ListAvailable(doc string) ([]Summary, error) {
	if err := checkDoc(doc); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.load(doc)
	if err != nil {
		return nil, err
	}
	keys := availableKeys(b)
	out := make([]Summary, 0, len(keys))
	for _, k := range keys {
		e := b.Entries[k]
		out = append(out, Summary{
			Key:          k,
			Name:         DisplayName(k),
			Progress:     e.Progress,
			FullDocument: e.FullDocument,
			Timestamp:    e.Timestamp,
			Legacy:       IsLegacySlot(k),
		})
	}

	cur, ok, err := c.index.Get(doc)
	if err != nil {
		c.logger.Warn("artifact: index read failed",
			slog.String("path", doc), slog.String("error", err.Error()))
		return out, nil
	}
	if !ok || !slices.Equal(cur.AvailableTypes, keys) {
		c.syncIndex(doc, keys)
		c.logger.Debug("artifact: index repaired",
			slog.String("path", doc), slog.Int("types", len(keys)))
	}
	return out, nil
}

func (c *Cache) load(doc string) (*blob, error) {
	data, err := c.store.Read(cachePath(doc))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &blob{Version: blobVersion, Entries: map[string]Entry{}}, nil
		}
		return nil, err
	}
	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("artifact: decode cache for %s: %w", doc, err)
	}
	if b.Version > blobVersion {
		return nil, fmt.Errorf("artifact: cache for %s has unsupported version %d", doc, b.Version)
	}
	b.Version = blobVersion
	if b.Entries == nil {
		b.Entries = map[string]Entry{}
	}
	return &b, nil
}

// save writes the blob, or removes the file once it holds nothing, and
// keeps the artifact index in step.
func (c *Cache) save(doc string, b *blob) error {
	keys := availableKeys(b)
	if len(b.Entries) == 0 {
		if err := c.store.Delete(cachePath(doc)); err != nil {
			return err
		}
	} else {
		data, err := json.MarshalIndent(b, "", "  ")
		if err != nil {
			return fmt.Errorf("artifact: encode: %w", err)
		}
		if err := c.store.Write(cachePath(doc), data); err != nil {
			return err
		}
	}
	c.syncIndex(doc, keys)
	return nil
}

func (c *Cache) syncIndex(doc string, keys []string) {
	var err error
	if len(keys) == 0 {
		err = c.index.Delete(doc)
	} else {
		err = c.index.Put(doc, models.ArtifactIndexRecord{AvailableTypes: keys})
	}
	if err != nil {
		c.logger.Warn("artifact: index update failed",
			slog.String("path", doc), slog.String("error", err.Error()))
	}
}

func availableKeys(b *blob) []string {
	var legacy, actions []string
	for k, e := range b.Entries {
		if e.Result == "" {
			continue
		}
		if IsLegacySlot(k) {
			continue
		}
		actions = append(actions, k)
	}
	for _, k := range legacySlots {
		if e, ok := b.Entries[k]; ok && e.Result != "" {
			legacy = append(legacy, k)
		}
	}
	sort.Strings(actions)
	return append(legacy, actions...)
}

func cachePath(doc string) string {
	return docsettings.SidecarFile(doc, sidecar.ArtifactCacheFile)
}

func checkDoc(doc string) error {
	if doc == "" || !filepath.IsAbs(doc) {
		return fmt.Errorf("artifact: %w: %q", apperr.ErrInvalidPath, doc)
	}
	return nil
}

func checkKey(doc, action string) error {
	if err := checkDoc(doc); err != nil {
		return err
	}
	if action == "" {
		return fmt.Errorf("artifact: empty action id")
	}
	return nil
}

func checkEntry(result string, progress float64) error {
	if result == "" {
		return fmt.Errorf("artifact: %w", apperr.ErrEmptyResult)
	}
	if progress < 0 || progress > 1 {
		return fmt.Errorf("artifact: %w: %v", apperr.ErrInvalidProgress, progress)
	}
	return nil
}
