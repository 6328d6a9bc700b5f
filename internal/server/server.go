package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tranche/internal/cache"
	"tranche/internal/db"
	"tranche/internal/engine"
	"tranche/internal/handler"
	"tranche/internal/propagation"
)

// Server represents the HTTP server.
type Server struct {
	httpServer  *http.Server
	logger      *zap.Logger
	database    *db.DB
	cacheClient *cache.Client
}

// Config holds server configuration.
type Config struct {
	Port        int
	Database    *db.DB
	CacheClient *cache.Client
	Engine      *engine.Engine
	Broker      *propagation.Broker
	Logger      *zap.Logger
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		logger:      cfg.Logger,
		database:    cfg.Database,
		cacheClient: cfg.CacheClient,
	}

	// Create handlers
	transferHandler := handler.NewTransferHandler(cfg.Engine)
	codeHandler := handler.NewCodeHandler(cfg.Engine)
	progressHandler := handler.NewProgressHandler(cfg.Broker)

	// Setup chi router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.zapLogger)
	r.Use(middleware.Recoverer)

	// Health check endpoints
	r.Get("/health", s.healthCheck)
	r.Get("/ready", s.readyCheck)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Transfers
			r.Post("/transfers", transferHandler.Create)
			r.Get("/transfers", transferHandler.List)
			r.Get("/transfers/{id}", transferHandler.Get)
			r.Post("/transfers/{id}/suspend", transferHandler.Suspend)
			r.Post("/transfers/{id}/resume", transferHandler.Resume)

			// Validation codes
			r.Get("/transfers/{id}/codes", codeHandler.List)
			r.Get("/transfers/{id}/codes/next", codeHandler.PeekNext)
			r.Post("/transfers/{id}/codes/{sequence}", transferHandler.ApplyCode)

			// Progress snapshot
			r.Get("/transfers/{id}/progress", progressHandler.Snapshot)
		})

		// Long-lived SSE stream, outside the request timeout
		r.Get("/transfers/{id}/stream", progressHandler.Stream)
	})

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays 0 so the event stream is never cut mid-flight
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// healthCheck returns basic health status.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readyCheck returns readiness status (all dependencies available).
func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Check PostgreSQL
	if err := s.database.Ping(ctx); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready","reason":"database unavailable"}`))
		return
	}

	// Check Redis
	if s.cacheClient != nil {
		if err := s.cacheClient.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","reason":"cache unavailable"}`))
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// zapLogger is a middleware that logs requests using zap.
func (s *Server) zapLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
