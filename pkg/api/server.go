// Package api is the control plane (C5): a hand-rolled net/http mux that
// validates a migration request, dispatches it to the pipeline engine, and
// returns the aggregate result. Grounded on pkg/api/server.go's server
// lifecycle (ServerConfig, createMux, middleware chain, graceful Stop) but
// re-routed to the four endpoints SPEC_FULL §4.5 names instead of the
// teacher's stream/config CRUD surface.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/saadactin/migrator/pkg/config"
	"github.com/saadactin/migrator/pkg/metrics"
	"github.com/saadactin/migrator/pkg/pipeline"
	"github.com/saadactin/migrator/pkg/registry"
)

// Server is the control plane's HTTP server: one *http.Server wrapping a
// hand-rolled mux, backed by a frozen Registry, one Engine, and one
// metrics Collector shared across every request.
type Server struct {
	cfg        *config.Config
	registry   *registry.Registry
	engine     *pipeline.Engine
	metrics    *metrics.Collector
	validate   *validator.Validate
	httpServer *http.Server
}

// NewServer wires a Server from its dependencies. reg must already be
// frozen (see registry.Registry.Freeze) before the first request arrives.
func NewServer(cfg *config.Config, reg *registry.Registry, engine *pipeline.Engine, metricsCollector *metrics.Collector) *Server {
	s := &Server{
		cfg:      cfg,
		registry: reg,
		engine:   engine,
		metrics:  metricsCollector,
		validate: validator.New(),
	}

	handler := s.loggingMiddleware(s.recoveryMiddleware(s.corsMiddleware(s.createMux())))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Info().
		Str("address", s.httpServer.Addr).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Msg("control plane HTTP server created")

	return s
}

// createMux wires the four endpoints SPEC_FULL §4.5 names plus a root
// service-info handler, mirroring the teacher's createMux shape.
func (s *Server) createMux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/migrate", s.handleMigrate)
	mux.HandleFunc("/test-connection", s.handleTestConnection)

	if s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, s.metrics.Handler())
	}

	mux.HandleFunc("/", s.handleRoot)

	return mux
}

// Start runs the HTTP server until Stop is called or it fails. Matches
// http.Server.ListenAndServe's contract: a clean shutdown returns
// http.ErrServerClosed, which callers should treat as success.
func (s *Server) Start() error {
	log.Info().Str("address", s.httpServer.Addr).Msg("starting control plane")
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down, waiting up to the configured
// shutdown timeout for in-flight requests to finish. A migration already
// dispatched runs to completion regardless (§5: uncancellable from
// outside), so this only bounds how long Stop itself blocks.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("stopping control plane")
	return s.httpServer.Shutdown(ctx)
}

// GetAddr returns the address the server binds (or will bind) to.
func (s *Server) GetAddr() string {
	return s.httpServer.Addr
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "migrator-api",
		"status":  "running",
		"endpoints": map[string]string{
			"health":          "/health",
			"migrate":         "/migrate",
			"test_connection": "/test-connection",
			"metrics":         s.cfg.Metrics.Path,
		},
	})
}

// corsMiddleware allows any origin, matching the teacher's default
// EnableCORS/CORSOrigins=["*"] posture — this service is expected to sit
// behind an internal gateway, not exposed directly to browsers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("recovered panic in http handler")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response body")
	}
}
