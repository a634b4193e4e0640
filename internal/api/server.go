// Package api provides the HTTP API server for the privacy request engine.
//
// This package implements the API gateway layer using the go-chi/chi
// router. It handles all HTTP routing, middleware chaining, and server
// lifecycle.
//
// The middleware chain: RequestID -> RealIP -> Logger -> Recoverer ->
// Metrics -> Auth -> RateLimit -> Timeout.
//
// Usage:
//
//	cfg := config.MustLoad()
//	server := api.NewServer(cfg, deps)
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal("Server failed:", err)
//	}
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/medisync/privacygraph/internal/api/handlers"
	"github.com/medisync/privacygraph/internal/api/middleware"
	apiws "github.com/medisync/privacygraph/internal/api/websocket"
	"github.com/medisync/privacygraph/internal/auth"
	"github.com/medisync/privacygraph/internal/cache"
	"github.com/medisync/privacygraph/internal/config"
	"github.com/medisync/privacygraph/internal/events"
	"github.com/medisync/privacygraph/internal/store"
	"github.com/google/uuid"
)

// Server represents the HTTP API server.
type Server struct {
	config     *config.Config
	logger     *slog.Logger
	router     *chi.Mux
	httpServer *http.Server

	// Dependencies
	store     *store.Store
	cache     *cache.Client
	keycloak  *auth.KeycloakValidator
	publisher *events.Publisher

	// Handlers
	requests     *handlers.RequestsHandler
	logStreamer  *apiws.LogStreamer
	metrics      *middleware.MetricsCollector
}

// Dependencies holds the required dependencies for the API server.
type Dependencies struct {
	Store     *store.Store
	Cache     *cache.Client
	Keycloak  *auth.KeycloakValidator
	Publisher *events.Publisher
}

// NewServer creates a new API server instance.
func NewServer(cfg *config.Config, deps *Dependencies) *Server {
	if deps == nil {
		deps = &Dependencies{}
	}

	logger := slog.Default()

	s := &Server{
		config:    cfg,
		logger:    logger,
		router:    chi.NewRouter(),
		store:     deps.Store,
		cache:     deps.Cache,
		keycloak:  deps.Keycloak,
		publisher: deps.Publisher,
		metrics:   middleware.NewMetricsCollector(),
	}

	if s.store != nil {
		s.requests = handlers.NewRequestsHandler(s.store, s.publisher, s.logger)
		s.logStreamer = apiws.NewLogStreamer(s.store, apiws.LogStreamerConfig{Logger: s.logger})
	}

	s.setupMiddleware()
	s.registerRoutes()

	return s
}

// setupMiddleware configures the middleware chain in the correct order.
// Order: RequestID -> RealIP -> Logger -> Recoverer -> Metrics -> Auth ->
// RateLimit -> Timeout.
func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.RequestLogger(&slogLogFormatter{logger: s.logger}))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.MetricsMiddleware(s.metrics, s.logger))

	if s.keycloak != nil {
		s.router.Use(middleware.AuthMiddleware(s.keycloak, s.logger))
	}

	requestsPerMinute := s.config.Server.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if s.cache != nil {
		s.router.Use(middleware.RateLimitMiddleware(s.cache, s.logger, requestsPerMinute))
	}

	s.router.Use(middleware.TimeoutMiddleware(middleware.DefaultTimeout))

	s.router.Use(chimiddleware.CleanPath)
	s.router.Use(chimiddleware.StripSlashes)
}

// registerRoutes mounts all API routes.
func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.SimpleHealth)
	s.router.Get("/live", handlers.LivenessCheck)
	s.router.Get("/ready", s.handleReady)
	s.router.Get("/metrics", s.handleMetrics)

	if s.requests == nil {
		return
	}

	traversalMW := middleware.TraversalTimeoutMiddleware(s.config.Server.TraversalTimeout)

	s.router.Route("/privacy-requests", func(r chi.Router) {
		r.With(traversalMW).Post("/", s.requests.Submit)
		r.With(traversalMW).Post("/dry-run", s.requests.DryRun)
		r.Get("/{id}", s.requests.Status)
		r.Get("/{id}/stream", s.handleStream)
	})
}

// handleStream upgrades the connection and relays a privacy request's
// execution log as it grows.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	conn, err := apiws.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket connection", slog.Any("error", err))
		return
	}
	defer conn.Close()

	if err := s.logStreamer.Stream(r.Context(), conn, id); err != nil {
		s.logger.Info("log stream ended", slog.String("request_id", id.String()), slog.Any("error", err))
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.getServerPort())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	s.logger.Info("starting API server",
		slog.String("address", addr),
		slog.String("environment", string(s.config.App.Environment)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server listen error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server due to context cancellation")
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("shutting down API server")

	shutdownTimeout := s.config.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server shutdown error", slog.Any("error", err))
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server shutdown complete")
	return nil
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// getServerPort returns the server port from config, defaulting to 8080.
func (s *Server) getServerPort() int {
	if s.config.Server.Port != 0 {
		return s.config.Server.Port
	}
	return 8080
}

// ============================================================================
// HTTP Handlers
// ============================================================================

// handleReady handles the readiness check endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			s.logger.Error("readiness check: cache ping failed", slog.Any("error", err))
			s.writeError(w, http.StatusServiceUnavailable, "cache unavailable")
			return
		}
	}

	response := map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": map[string]bool{
			"store": s.store != nil,
			"cache": s.cache != nil,
		},
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleMetrics reports the request-latency summary and percentile
// breakdown this process has observed since the last Reset.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"summary":             s.metrics.GetSummary(),
		"latency_percentiles": s.metrics.CalculateLatencyPercentiles(),
	}
	s.writeJSON(w, http.StatusOK, response)
}

// ============================================================================
// Helper Functions
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to write JSON response", slog.Any("error", err))
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"message": message,
			"code":    http.StatusText(status),
		},
	})
}

// ============================================================================
// Logging Formatter
// ============================================================================

// slogLogFormatter implements chi's LogFormatter interface using slog.
type slogLogFormatter struct {
	logger *slog.Logger
}

// NewLogEntry creates a new log entry for the request.
func (f *slogLogFormatter) NewLogEntry(r *http.Request) chimiddleware.LogEntry {
	return &slogLogEntry{
		logger: f.logger,
		r:      r,
	}
}

// slogLogEntry implements chi's LogEntry interface.
type slogLogEntry struct {
	logger *slog.Logger
	r      *http.Request
}

// Write logs the response status and details.
func (e *slogLogEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	e.logger.Info("request completed",
		slog.String("method", e.r.Method),
		slog.String("path", e.r.URL.Path),
		slog.Int("status", status),
		slog.Int("bytes", bytes),
		slog.Duration("elapsed", elapsed),
		slog.String("request_id", chimiddleware.GetReqID(e.r.Context())),
		slog.String("remote_addr", e.r.RemoteAddr),
	)
}

// Panic logs panic information.
func (e *slogLogEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error("request panic",
		slog.Any("panic", v),
		slog.String("stack", string(stack)),
		slog.String("request_id", chimiddleware.GetReqID(e.r.Context())),
	)
}
