// Package chats stores saved conversations in the current format: in the
// host metadata of their document, or in the general store for chats not
// tied to any document.
package chats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/starford/marginalia/internal/docsettings"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/storage"
)

// GeneralDocument is the document path used by chats with no document.
const GeneralDocument = "__GENERAL_CHATS__"

// IndexStore is the chat index kept in step with the stored chats.
type IndexStore interface {
	Put(path string, rec models.ChatIndexRecord) error
}

type generalFile struct {
	Chats map[string]models.Chat `json:"chats"`
}

// Store merges and lists chats.
type Store struct {
	host        *docsettings.Host
	files       storage.Provider
	generalPath string
	index       IndexStore
	logger      *slog.Logger
	now         func() time.Time

	mu sync.Mutex
}

// New creates a chat Store. generalPath is the JSON file holding chats
// without a document.
func New(host *docsettings.Host, files storage.Provider, generalPath string, index IndexStore, logger *slog.Logger) *Store {
	return &Store{
		host:        host,
		files:       files,
		generalPath: generalPath,
		index:       index,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Merge adds chats to doc. Chats whose id is already stored are left
// untouched, so merging the same batch twice changes nothing. It returns
// the number of chats added.
func (s *Store) Merge(doc string, chats []models.Chat) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc == GeneralDocument {
		return s.mergeGeneral(chats)
	}

	meta, err := s.host.Load(doc)
	if err != nil {
		return 0, fmt.Errorf("chats: load %s: %w", doc, err)
	}
	if meta.Chats == nil {
		meta.Chats = map[string]models.Chat{}
	}
	added := mergeInto(meta.Chats, chats)
	if added == 0 {
		return 0, nil
	}
	if err := s.host.Save(doc, meta); err != nil {
		return 0, fmt.Errorf("chats: save %s: %w", doc, err)
	}
	rec := models.ChatIndexRecord{Count: len(meta.Chats), LastModified: s.now()}
	if err := s.index.Put(doc, rec); err != nil {
		s.logger.Warn("chats: index update failed",
			slog.String("path", doc), slog.String("error", err.Error()))
	}
	return added, nil
}

// List returns the chats of doc, oldest first.
func (s *Store) List(doc string) ([]models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m map[string]models.Chat
	if doc == GeneralDocument {
		g, err := s.loadGeneral()
		if err != nil {
			return nil, err
		}
		m = g.Chats
	} else {
		meta, err := s.host.Load(doc)
		if err != nil {
			return nil, fmt.Errorf("chats: load %s: %w", doc, err)
		}
		m = meta.Chats
	}
	out := make([]models.Chat, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) mergeGeneral(chats []models.Chat) (int, error) {
	g, err := s.loadGeneral()
	if err != nil {
		return 0, err
	}
	added := mergeInto(g.Chats, chats)
	if added == 0 {
		return 0, nil
	}
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("chats: encode: %w", err)
	}
	if err := s.files.Write(s.generalPath, data); err != nil {
		return 0, fmt.Errorf("chats: write general store: %w", err)
	}
	return added, nil
}

func (s *Store) loadGeneral() (*generalFile, error) {
	g := &generalFile{Chats: map[string]models.Chat{}}
	data, err := s.files.Read(s.generalPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return g, nil
		}
		return nil, fmt.Errorf("chats: read general store: %w", err)
	}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("chats: decode general store: %w", err)
	}
	if g.Chats == nil {
		g.Chats = map[string]models.Chat{}
	}
	return g, nil
}

func mergeInto(dst map[string]models.Chat, chats []models.Chat) int {
	added := 0
	for _, c := range chats {
		if _, ok := dst[c.ID]; ok {
			continue
		}
		dst[c.ID] = c
		added++
	}
	return added
}
