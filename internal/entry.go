// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/marginalia/internal/api"
	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/legacy"
	"github.com/starford/marginalia/internal/mcpserver"
	"github.com/starford/marginalia/internal/sse"
	"github.com/starford/marginalia/internal/watcher"
)

// Version is reported by the MCP server.
var Version = "dev"

// Run starts the HTTP server, the library watcher and, when consented,
// the legacy migration.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	cfg, err := app.init()
	if err != nil {
		return err
	}

	// Initialize structured JSON logger.
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("library_root", cfg.Library.Root),
		slog.String("data_dir", cfg.Data.Dir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	st, err := buildStack(cfg, app.registry, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	apiRouter := api.NewRouter(st.service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, st.broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", readyHandler(st.migrator.State))

	r.Handle("/metrics", promhttp.HandlerFor(st.registry, promhttp.HandlerOpts{}))

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	// Follow document moves in the library.
	if cfg.Library.Watch {
		g.Go(func() error {
			wcfg := watcher.Config{
				Root:       cfg.Library.Root,
				Extensions: cfg.Library.Extensions,
				PairWindow: cfg.Library.PairWindow,
			}
			err := watcher.Watch(gCtx, wcfg, st.hook, logger, st.libraryEvent(gCtx, logger))
			if err != nil {
				logger.Error("library watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Migrate the legacy store while the API is already answering; readiness
	// reports the run.
	g.Go(func() error {
		if _, err := migrateLegacy(gCtx, st, app.consent || cfg.Migration.AutoConsent, logger); err != nil {
			logger.Warn("legacy migration did not complete", slog.String("error", err.Error()))
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// readyHandler answers 503 while a legacy migration runs.
func readyHandler(state func() legacy.State) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if state() == legacy.StateInProgress {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"migrating"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// RunMigration runs the legacy migration once and writes its report.
// It fails when the run leaves the store in the failed state.
func RunMigration(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}

	cfg, err := app.init()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	st, err := buildStack(cfg, app.registry, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := migrateLegacy(ctx, st, app.consent || cfg.Migration.AutoConsent, logger)
	if errors.Is(err, apperr.ErrConsentDeclined) {
		_, _ = fmt.Fprintf(app.out, "Legacy data found in %s. Re-run with --yes to migrate it.\n", st.migrator.Root())
		return nil
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(app.out, res.Report())
	if res.State == legacy.StateFailed {
		return fmt.Errorf("migration failed: %d item(s)", res.Stats.Failed)
	}
	return nil
}

// RunMCP serves the MCP tools over stdio. Logs go to stderr so they do not
// interleave with the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}

	cfg, err := app.init()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	st, err := buildStack(cfg, app.registry, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := migrateLegacy(ctx, st, cfg.Migration.AutoConsent, logger); err != nil {
		logger.Warn("legacy migration did not complete", slog.String("error", err.Error()))
	}

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(st.service, Version).ServeStdio()
}

// migrateLegacy checks the legacy store and migrates it when consent is
// given. A declined consent leaves the store untouched and is retried on
// the next start.
func migrateLegacy(ctx context.Context, st *stack, consent bool, logger *slog.Logger) (*legacy.Result, error) {
	state, err := st.migrator.Check()
	if err != nil {
		return nil, err
	}
	if state != legacy.StateNeedsMigration {
		logger.Debug("legacy migration not needed", slog.String("state", string(state)))
		return &legacy.Result{State: state}, nil
	}

	res, err := st.migrator.Run(ctx, consent)
	if errors.Is(err, apperr.ErrConsentDeclined) {
		logger.Warn("legacy data found, migration awaits consent",
			slog.String("root", st.migrator.Root()))
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	logger.Info("legacy migration finished",
		slog.String("state", string(res.State)),
		slog.Int("total", res.Stats.Total),
		slog.Int("migrated", res.Stats.Migrated),
		slog.Int("skipped", res.Stats.Skipped),
		slog.Int("failed", res.Stats.Failed),
		slog.Int("corrupt", res.Stats.Corrupt),
		slog.Duration("duration", res.Duration))
	st.broker.Publish(sse.Event{Type: sse.TypeMigrationChanged, Data: res})
	return res, nil
}
