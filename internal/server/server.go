// Package server exposes the investigation engine over HTTP: alert intake,
// investigation lookup, feedback, a live WebSocket event stream, and the
// Prometheus metrics endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/incidentops/incident-agent/internal/audit"
	"github.com/incidentops/incident-agent/internal/config"
	"github.com/incidentops/incident-agent/internal/engine"
)

// Server is the HTTP surface of the incident agent.
type Server struct {
	config *config.Config
	engine *engine.Engine
	audit  audit.Logger
	logger *zap.Logger

	httpServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer creates a server around an engine. auditLogger may be nil.
func NewServer(cfg *config.Config, eng *engine.Engine, auditLogger audit.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}

	logger := zap.NewNop()
	if auditLogger != nil {
		logger = auditLogger.App()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config: cfg,
		engine: eng,
		audit:  auditLogger,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the server and waits for in-flight investigations.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
	}

	engineCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.engine.Shutdown(engineCtx)

	s.cancel()
	s.wg.Wait()

	s.logger.Info("server stopped")
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning reports whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// registerHandlers registers HTTP handlers.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	// Health and readiness
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	// Investigations
	mux.HandleFunc("POST /api/v1/investigations", s.handleInvestigationCreate)
	mux.HandleFunc("GET /api/v1/investigations", s.handleInvestigationList)
	mux.HandleFunc("GET /api/v1/investigations/{id}", s.handleInvestigationGet)
	mux.HandleFunc("POST /api/v1/investigations/{id}/cancel", s.handleInvestigationCancel)
	mux.HandleFunc("POST /api/v1/investigations/{id}/feedback", s.handleInvestigationFeedback)

	// Live event stream
	mux.HandleFunc("GET /api/v1/investigations/{id}/stream", s.handleInvestigationStream)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().UTC().Format(time.RFC3339) + `"}`))
}

// handleReady handles readiness check requests. Ready means the server is
// running and the backing store answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !running || s.engine.Ping(r.Context()) != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not_ready"}`))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready","timestamp":"` + time.Now().UTC().Format(time.RFC3339) + `"}`))
}
