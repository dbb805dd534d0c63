// Package api exposes entitlement checks, payment intents and processor
// webhooks over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/tollgate/pkg/observability"
)

// Server is the tollgate HTTP API server.
type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	handler *Handler
	health  *observability.HealthRegistry
	metrics http.Handler
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates the API server. health and metricsHandler may be nil.
func NewServer(cfg ServerConfig, handler *Handler, health *observability.HealthRegistry, metricsHandler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		handler: handler,
		health:  health,
		metrics: metricsHandler,
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	// Processor callbacks authenticate by signature, not bearer token.
	s.mux.HandleFunc("POST /webhooks/payments", s.handler.ReceiveWebhook)

	authed := s.handler.identify
	s.mux.Handle("GET /content/{id}/access", authed(http.HandlerFunc(s.handler.CheckAccess)))
	s.mux.Handle("POST /payment-intents", authed(http.HandlerFunc(s.handler.CreatePaymentIntent)))
	s.mux.Handle("POST /batch-check-access", authed(http.HandlerFunc(s.handler.BatchCheckAccess)))
	s.mux.Handle("GET /users/{id}/content", authed(http.HandlerFunc(s.handler.ListUserContent)))
	s.mux.Handle("GET /users/{id}/purchases", authed(http.HandlerFunc(s.handler.ListPurchases)))
}

// Handler returns the root handler with request middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler.instrument(s.handler.recoverer(s.mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	s.health.Handler().ServeHTTP(w, r)
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting tollgate API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down tollgate API server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Log error but can't do much at this point
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}
