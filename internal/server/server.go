// Package server provides the HTTP API for threadwise.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hyperjump/threadwise/internal/config"
	"github.com/hyperjump/threadwise/internal/engine"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// WatchService manages inbox directories at runtime. It is nil when watching is disabled.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the threadwise API.
type Server struct {
	engine *engine.Engine
	config *config.Config
	logger *zap.Logger
	server *http.Server

	watch         WatchService
	configPath    string
	watchConfigMu sync.Mutex
}

// NewServer creates a server. watch may be nil; configPath may be empty, in which case
// watch directory changes are not persisted.
func NewServer(eng *engine.Engine, cfg *config.Config, logger *zap.Logger, watch WatchService, configPath string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:     eng,
		config:     cfg,
		logger:     logger,
		watch:      watch,
		configPath: configPath,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Post("/messages", s.handleIngest)
		r.Delete("/messages/{id}", s.handleDeleteMessage)
		r.Get("/messages/{id}/context", s.handleMessageContext)

		r.Get("/conversations", s.handleConversations)
		r.Get("/threads", s.handleThreads)
		r.Get("/summaries", s.handleSummaries)
		r.Get("/flagged", s.handleFlagged)
		r.Post("/search", s.handleSearch)

		r.Get("/export", s.handleExport)
		r.Get("/report.xlsx", s.handleReport)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

func (s *Server) corsOrigins() []string {
	if s.config != nil && len(s.config.Server.CORSOrigins) > 0 {
		return s.config.Server.CORSOrigins
	}
	return []string{"*"}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	host, port := "localhost", 8080
	if s.config != nil {
		host, port = s.config.Server.Host, s.config.Server.Port
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
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
