// Package app wires the tunnelgate runtime: config, logging, storage, the
// session janitor and the operations HTTP endpoint.
package app

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"tunnelgate/cmd/internal/access"
	"tunnelgate/cmd/internal/auth/session"
	"tunnelgate/cmd/internal/authority"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// SessionsDir is the storage subdirectory holding session records.
const SessionsDir = "sessions"

// App is the tunnelgate runtime: it owns the stores, the access manager and the ops listener.
type App struct {
	cfg Config
	log Logger

	reg *prometheus.Registry

	tokens   *access.Store
	sessions *session.Service
	manager  *authority.Manager

	ready atomic.Bool
}

// New opens storage under cfg.StorageDir and constructs a fully wired App.
// Legacy token files are migrated and persisted sessions are loaded before it returns.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tokens, err := access.Open(ctx, cfg.StorageDir, access.Options{
		Log:             log,
		Metrics:         access.NewMetrics(reg),
		ListConcurrency: cfg.ListConcurrency,
	})
	if err != nil {
		return nil, err
	}

	store, err := session.NewFileStore(filepath.Join(cfg.StorageDir, SessionsDir), log)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewService(ctx, cfg.Session, store, session.Options{
		Log:     log,
		Metrics: session.NewMetrics(reg),
	})
	if err != nil {
		return nil, err
	}

	manager, err := authority.New(tokens, sessions, log)
	if err != nil {
		return nil, err
	}

	count, err := tokens.GetTotalCount(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("storage.open",
		"dir", cfg.StorageDir,
		"tokens", count,
		"sessions", sessions.Count(),
		"test_mode", cfg.Session.TestMode,
	)

	return &App{
		cfg:      cfg,
		log:      log,
		reg:      reg,
		tokens:   tokens,
		sessions: sessions,
		manager:  manager,
	}, nil
}

// Manager returns the access manager used by connection handlers.
func (a *App) Manager() *authority.Manager { return a.manager }

// Run starts the janitor and the ops listener and blocks until ctx is done
// or the listener fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.sessions.RunJanitor(gctx)
		return nil
	})

	if a.cfg.OpsAddr != "" {
		srv := &http.Server{
			Addr:              a.cfg.OpsAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		}
		g.Go(func() error { return a.serveOps(gctx, srv) })
	} else {
		a.log.Info("ops.disabled")
	}

	a.ready.Store(true)
	err := g.Wait()
	a.ready.Store(false)

	a.log.Info("server.stopped")
	return err
}

func (a *App) serveOps(ctx context.Context, srv *http.Server) error {
	a.log.Info("ops.start", "addr", srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("ops.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("ops.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("ops.shutdown.fail", "err", err)
		return err
	}
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
