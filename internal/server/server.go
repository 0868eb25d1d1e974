// Package server exposes the coordinator over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ppiankov/markxiv/internal/logging"
	"github.com/ppiankov/markxiv/internal/model"
)

const shutdownTimeout = 15 * time.Second

// Service is what the HTTP surface needs from the coordinator
type Service interface {
	Convert(ctx context.Context, raw string, refresh bool) (string, error)
	Metadata(ctx context.Context, raw string) (string, error)
	Search(ctx context.Context, query string, limit int) (string, error)
	Figures(ctx context.Context, raw string) ([]string, error)
	Exists(ctx context.Context, raw string) (bool, error)
}

// Server serves markdown conversions
type Server struct {
	svc    Service
	cfg    model.ServerConfig
	logger *zap.Logger
}

// New creates a server
func New(svc Service, cfg model.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logging.OrNop(logger),
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/", s.index)
	r.Get("/health", s.health)
	r.Get("/abs/*", s.paper)
	r.Get("/pdf/*", s.paper)
	r.Head("/abs/*", s.exists)
	r.Head("/pdf/*", s.exists)
	r.Get("/meta/*", s.metadata)
	r.Get("/figures/*", s.figures)
	r.Get("/search", s.search)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
