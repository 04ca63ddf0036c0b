// Package server exposes a core.Backend over HTTP as the JSON API consumed
// by pkg/client.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapviz/internal/metrics"
	"github.com/leapstack-labs/leapviz/pkg/core"
)

// DefaultMaxUploadBytes bounds multipart upload bodies.
const DefaultMaxUploadBytes = 50 << 20

const (
	maxJSONBody     = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Server serves the backend API.
type Server struct {
	backend        core.Backend
	addr           string
	maxUploadBytes int64
	logger         *slog.Logger
	metrics        *metrics.Collector
}

// Config holds configuration for the server.
type Config struct {
	Backend        core.Backend
	Addr           string
	MaxUploadBytes int64
	Logger         *slog.Logger
	// Metrics, when set, instruments every route and serves /metrics.
	Metrics *metrics.Collector
}

// New creates a server instance.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Server{
		backend:        cfg.Backend,
		addr:           cfg.Addr,
		maxUploadBytes: maxUpload,
		logger:         logger,
		metrics:        cfg.Metrics,
	}
}

// Handler returns the router with all API routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		requestID,
		s.logRequests,
		middleware.Recoverer,
	)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/healthz", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.upload)
		r.Post("/translate", s.translate)
		r.Post("/execute", s.execute)

		r.Route("/dashboards", func(r chi.Router) {
			r.Get("/", s.listDashboards)
			r.Post("/", s.saveDashboard)
			r.Get("/{id}", s.getDashboard)
			r.Put("/{id}", s.updateDashboard)
			r.Delete("/{id}", s.deleteDashboard)
		})
	})
	return r
}

// Serve listens on the configured address and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting server", "addr", "http://"+ln.Addr().String())

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Debug("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}
