package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/starford/marginalia/internal/artifact"
	"github.com/starford/marginalia/internal/chats"
	"github.com/starford/marginalia/internal/docsettings"
	"github.com/starford/marginalia/internal/legacy"
	"github.com/starford/marginalia/internal/metrics"
	"github.com/starford/marginalia/internal/notebook"
	"github.com/starford/marginalia/internal/pathstore"
	"github.com/starford/marginalia/internal/relocate"
	"github.com/starford/marginalia/internal/service"
	"github.com/starford/marginalia/internal/settings"
	"github.com/starford/marginalia/internal/sidecar"
	"github.com/starford/marginalia/internal/sse"
	"github.com/starford/marginalia/internal/storage"
	"github.com/starford/marginalia/internal/watcher"
)

const (
	metricsNamespace = "marginalia"
	indexThrottle    = 2 * time.Second
)

// stack is the fully wired application shared by every command.
type stack struct {
	db       *settings.DB
	registry *prometheus.Registry
	hook     *relocate.Hook
	migrator *legacy.Migrator
	broker   *sse.Broker
	service  *service.Service
}

func (a *application) init() (*Config, error) {
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	if err := a.config.Resolve(); err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	return a.config, nil
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

func buildStack(cfg *Config, reg *prometheus.Registry, logger *slog.Logger) (*stack, error) {
	for _, dir := range []string{cfg.Data.Dir, cfg.Library.Root} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	db, err := settings.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init settings: %w", err)
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metricsNamespace, reg)

	files := storage.NewFS()
	indexes := pathstore.NewIndexes(db, logger)
	if dropped, err := indexes.Reconcile(fileExists); err != nil {
		logger.Warn("index reconcile failed", slog.String("error", err.Error()))
	} else if dropped > 0 {
		logger.Info("dropped index records of missing documents", slog.Int("count", dropped))
	}

	host := docsettings.NewHost(files, logger)
	hook := relocate.NewHook(host)
	relocate.Install(hook, sidecar.NewMigrator(files, logger, m), indexes, logger,
		relocate.WithMetrics(m))

	chatStore := chats.New(host, files, cfg.Data.GeneralChatsPath(), indexes.Chats, logger)
	migrator := legacy.New(cfg.Data.Dir, db, files, chatStore, logger,
		legacy.WithMetrics(m))

	broker := sse.NewBroker(indexThrottle)

	svc := service.New(service.Deps{
		Cache:     artifact.NewCache(files, indexes.Artifacts, logger, m),
		Notebooks: notebook.New(files, indexes.Notebooks, logger),
		Chats:     chatStore,
		Host:      host,
		Indexes:   indexes,
		Mover:     hook,
		Migrator:  migrator,
		Events:    broker,
	})

	return &stack{
		db:       db,
		registry: reg,
		hook:     hook,
		migrator: migrator,
		broker:   broker,
		service:  svc,
	}, nil
}

// libraryEvent handles a change reported by the library watcher. Moves
// already went through the hook; removals drop the document's index records.
func (s *stack) libraryEvent(ctx context.Context, logger *slog.Logger) watcher.EventCallback {
	return func(kind, oldPath, newPath string) {
		switch kind {
		case "moved":
			s.broker.PublishDocument(sse.TypeDocumentMoved, oldPath, newPath)
		case "removed":
			if err := s.service.DocumentRemoved(ctx, oldPath); err != nil {
				logger.Warn("forget removed document failed",
					slog.String("path", oldPath),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (s *stack) Close() error {
	s.broker.Close()
	return s.db.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
