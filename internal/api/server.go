// Package api serves the admin HTTP surface of the data protection
// subsystem under /api/v1.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"dataguard/internal/logging"
	"dataguard/internal/metrics"
	"dataguard/internal/service"
)

// Server routes admin requests to a service.Service.
type Server struct {
	router   chi.Router
	svc      *service.Service
	logger   *logging.Logger
	metrics  metrics.Recorder
	gatherer prometheus.Gatherer
}

// NewServer builds the router. A nil gatherer serves the default registry.
func NewServer(svc *service.Service, logger *logging.Logger, rec metrics.Recorder, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if rec == nil {
		rec = metrics.Nop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router:   chi.NewRouter(),
		svc:      svc,
		logger:   logger,
		metrics:  rec,
		gatherer: gatherer,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(Metrics(s.metrics))
}

func (s *Server) setupRoutes() {
	probes := metrics.Handler(s.gatherer, s.svc.Health)
	s.router.Handle("/metrics", probes)
	s.router.Handle("/healthz", probes)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/backups", func(r chi.Router) {
			r.Get("/", s.listBackups)
			r.Post("/", s.createBackup)
			r.Get("/{id}/verify", s.verifyBackup)
			r.Delete("/{id}", s.deleteBackup)
			r.Post("/{id}/export", s.exportBackup)
			r.Post("/{id}/restore", s.restoreBackup)
		})
		r.Route("/retention", func(r chi.Router) {
			r.Post("/archive", s.archive)
			r.Post("/cleanup-archive", s.cleanupArchive)
			r.Post("/cleanup-backups", s.cleanupBackups)
			r.Post("/run-policy", s.runPolicy)
			r.Post("/full-archive", s.fullArchive)
		})
		r.Route("/migrations", func(r chi.Router) {
			r.Get("/", s.migrationHistory)
			r.Post("/", s.executeMigration)
			r.Post("/{id}/rollback", s.rollbackMigration)
		})
		r.Get("/health", s.health)
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Admin API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		s.logger.Info("Shutting down admin API")
		return srv.Shutdown(shutdownCtx)
	}
}
