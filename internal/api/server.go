// Package api exposes the approval engine over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/cogsolver/internal/catalog"
	"github.com/opensource-finance/cogsolver/internal/domain"
	"github.com/opensource-finance/cogsolver/internal/rules"
)

// Deps are the collaborators the API serves. Cache and Bus are optional.
type Deps struct {
	Repo    domain.Repository
	Catalog *catalog.Catalog
	Engine  *rules.Engine
	Cache   domain.Cache
	Bus     domain.EventBus
	Logger  *slog.Logger
	Version string

	// DefaultStatusID is assigned to submitted applications without a status.
	DefaultStatusID string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(middleware.RealIP)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(handler.logger))
	router.Use(RecoverMiddleware(handler.logger))
	if cfg.RateLimit > 0 {
		router.Use(NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Middleware)
	}
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/applications", func(r chi.Router) {
		r.Get("/", handler.ListApplications)
		r.Post("/", handler.SubmitApplication)
		r.Get("/{id}", handler.GetApplication)
		r.Get("/{id}/recommendation", handler.GetRecommendation)
	})

	router.Route("/rules", func(r chi.Router) {
		r.Get("/", handler.ListRules)
		r.Post("/", handler.CreateRule)
		r.Post("/validate", handler.ValidateRule)
		r.Get("/{id}", handler.GetRule)
		r.Put("/{id}", handler.UpdateRule)
		r.Post("/{id}/activate", handler.ActivateRule)
		r.Post("/{id}/deactivate", handler.DeactivateRule)
	})

	router.Get("/statuses", handler.ListStatuses)
	router.Post("/statuses", handler.CreateStatus)
	router.Get("/roles", handler.ListRoles)
	router.Post("/roles", handler.CreateRole)

	router.Get("/report", handler.Report)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
