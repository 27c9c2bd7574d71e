// Package server provides the HTTP API for vismatch.
package server

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/vismatch/internal/config"
	"github.com/hyperjump/vismatch/internal/search"
	"github.com/hyperjump/vismatch/internal/storage"
)

// ImageFetcher resolves a remote image URL for URL-based queries.
type ImageFetcher interface {
	Fetch(ctx context.Context, locator string) (image.Image, error)
}

// Server is the HTTP server for the vismatch API.
type Server struct {
	engine  *search.Engine
	holder  *search.Holder
	fetcher ImageFetcher
	ledger  storage.Ledger // optional; enables latest-run status
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
	started time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLedger exposes the latest ingestion run in status responses.
func WithLedger(l storage.Ledger) Option {
	return func(s *Server) { s.ledger = l }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	holder *search.Holder,
	fetcher ImageFetcher,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		engine:  engine,
		holder:  holder,
		fetcher: fetcher,
		config:  cfg,
		logger:  logger,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/search", s.handleSearch)
	r.Get("/api/v1/status", s.handleStatus)
	r.Post("/api/v1/reload", s.handleReload)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
