package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/health"
	"github.com/marmos91/dittostore/pkg/storage"
)

// Server provides the observability HTTP endpoints.
//
// The server exposes the following endpoints:
//   - GET /metrics: Prometheus metrics in text format
//   - GET /health: health report of every storage
//   - GET /health/{storage}: health of one storage
//   - GET /stats: per-storage statistics, when a Stats function is configured
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server       *http.Server
	port         int
	shutdownOnce sync.Once
}

// StatsFunc produces the JSON document served at /stats.
type StatsFunc func(ctx context.Context) (any, error)

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on for HTTP requests.
	// Default: 9090
	Port int

	// Health serves /health when set.
	Health *health.Checker

	// Stats serves /stats when set.
	Stats StatsFunc

	// Registry overrides the global metrics registry.
	Registry *prometheus.Registry
}

// applyDefaults fills in zero values with sensible defaults.
func (c *ServerConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 9090
	}
	if c.Registry == nil && IsEnabled() {
		c.Registry = GetRegistry()
	}
}

// NewServer creates a new metrics HTTP server.
//
// The server is created in a stopped state. Call Start() to begin serving requests.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      NewRouter(config),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		server: server,
		port:   config.Port,
	}
}

// NewRouter builds the handler served by Server.
func NewRouter(config ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if config.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(config.Registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
		logger.Debug("Metrics endpoint registered at /metrics")
	} else {
		r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "Metrics collection is disabled\n")
		})
		logger.Debug("Metrics collection disabled")
	}

	if config.Health != nil {
		checker := config.Health
		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			report := checker.Check(req.Context())
			writeJSON(w, statusCode(report.Status), report)
		})
		r.Get("/health/{storage}", func(w http.ResponseWriter, req *http.Request) {
			h, err := checker.CheckStorage(req.Context(), chi.URLParam(req, "storage"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, statusCode(h.Status), h)
		})
	}

	if config.Stats != nil {
		stats := config.Stats
		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			doc, err := stats(req.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		})
	}

	return r
}

// statusCode maps a health status onto an HTTP status. Degraded storages
// still serve, so only Unhealthy fails the probe.
func statusCode(s health.Status) int {
	if s == health.Unhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if storage.IsNotFound(err) {
		code = http.StatusNotFound
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

// Start starts the metrics HTTP server and blocks until the context is cancelled
// or an error occurs.
//
// When the context is cancelled, Start initiates graceful shutdown and returns.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on port %d", s.port)
		logger.Debug("Metrics endpoint available at http://localhost:%d/metrics", s.port)

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Metrics server shutdown signal received")
		// Don't use the cancelled ctx as it would cause immediate shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the metrics server.
//
// Stop is safe to call multiple times and safe to call concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("Metrics server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			logger.Error("Metrics server shutdown error: %v", err)
		} else {
			logger.Info("Metrics server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int {
	return s.port
}
