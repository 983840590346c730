// Package web provides the HTTP server and handlers for the PEM file service.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/pemtool/internal/config"
	"github.com/JonMunkholm/pemtool/internal/core"
	"github.com/JonMunkholm/pemtool/internal/web/middleware"
)

// Server is the HTTP server for the PEM file service.
type Server struct {
	service  *core.Service
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
	metrics  http.Handler
	limiters []*middleware.RateLimiter
}

// NewServer creates a Server. metrics serves /metrics when non-nil.
func NewServer(service *core.Service, cfg *config.Config, metrics http.Handler) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
		metrics: metrics,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	}
	s.router.Use(middleware.SecurityHeaders(s.cfg.Security.EnableCSP))
	s.router.Use(requestMetadata)

	if s.cfg.Rate.Enabled {
		s.router.Use(s.rateLimit(s.cfg.Rate.RequestsPerMinute))
	}
}

// rateLimit returns a per-IP limiter of perMinute requests.
func (s *Server) rateLimit(perMinute int) func(http.Handler) http.Handler {
	rl := middleware.NewRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, rl)
	return rl.Handler
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}

	// Pages
	s.router.Get("/", s.handleDashboard)
	s.router.Get("/files/{id}", s.handleFilePage)
	s.router.Get("/audit-log", s.handleAuditLogPage)

	// Page forms, redirecting back to the file page
	s.router.Group(func(r chi.Router) {
		s.mutating(r)
		r.Post("/upload", s.handleUploadForm)
		r.Post("/files/{id}/edit", s.handleEditForm)
		r.Post("/files/{id}/revert", s.handleRevertForm)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/files", s.handleListFiles)
		r.Get("/files/{id}", s.handleGetFile)
		r.Get("/files/{id}/revisions", s.handleRevisions)
		r.Get("/files/{id}/export", s.handleExport)
		r.Get("/audit-log", s.handleAuditLog)
		r.Get("/audit-log/export", s.handleAuditLogExport)

		r.Group(func(r chi.Router) {
			s.mutating(r)
			r.Post("/files", s.handleUpload)
			r.Post("/files/{id}/edit", s.handleEdit)
			r.Post("/files/{id}/revert", s.handleRevert)
			r.Delete("/files/{id}", s.handleDeleteFile)
		})
	})
}

// mutating guards routes that change stored files.
func (s *Server) mutating(r chi.Router) {
	r.Use(middleware.APIKeyAuth(&s.cfg.Security))
	if s.cfg.Rate.Enabled && s.cfg.Rate.UploadLimit > 0 {
		r.Use(s.rateLimit(s.cfg.Rate.UploadLimit))
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.Stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
