// Package monitor serves a read-only JSON view of a resq deployment:
// counters, queues, workers and failure records.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/benedict-erwin/resq"
	"github.com/benedict-erwin/resq/supervisor"
)

const defaultAddr = ":8080"

// Config holds the HTTP server settings.
type Config struct {
	Addr      string
	APIKeys   []APIKey // empty disables authentication
	RateLimit int      // requests per second per client IP
}

// APIKey is a named credential accepted in the X-API-Key header.
type APIKey struct {
	Name string
	Key  string
}

// Source provides the snapshots served under /api/v1/stats.
type Source interface {
	Snapshot(ctx context.Context) (*supervisor.Report, error)
}

// Monitor is the HTTP monitoring server.
type Monitor struct {
	server   *http.Server
	mux      *http.ServeMux
	rc       *resq.RedisClient
	source   Source
	dir      *resq.Directory
	failures *resq.Failures
	limiter  *throttle
	logger   *slog.Logger
	cfg      Config

	startedAt time.Time
}

// New creates a monitor reading from rc and source.
func New(rc *resq.RedisClient, source Source, logger *slog.Logger, cfg Config) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		rc:        rc,
		source:    source,
		dir:       resq.NewDirectory(rc),
		failures:  resq.NewFailures(rc),
		limiter:   newThrottle(cfg.RateLimit),
		logger:    logger.With("component", "monitor"),
		cfg:       cfg,
		startedAt: time.Now(),
	}

	m.mux = http.NewServeMux()
	m.setupRoutes()

	addr := cfg.Addr
	if addr == "" {
		addr = defaultAddr
	}
	m.server = &http.Server{
		Addr:         addr,
		Handler:      m.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return m
}

// Handler returns the routes wrapped in the rate limiter.
func (m *Monitor) Handler() http.Handler {
	return m.limiter.wrap(m.mux)
}

// Start serves until Stop is called. It returns nil on graceful shutdown.
func (m *Monitor) Start() error {
	m.logger.Info("monitor HTTP server starting", "addr", m.server.Addr)
	err := m.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down.
func (m *Monitor) Stop(ctx context.Context) error {
	m.logger.Info("monitor HTTP server stopping")
	m.limiter.close()
	return m.server.Shutdown(ctx)
}
