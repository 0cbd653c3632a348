package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"leveraged/internal/core"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc renders the read-only status document served at /status
type StatusFunc func() interface{}

// Server exports Prometheus metrics, health and strategy status over HTTP
type Server struct {
	port   int
	logger core.ILogger
	health http.Handler
	status StatusFunc

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// NewServer creates a new metrics server. health and status may be nil.
func NewServer(port int, health http.Handler, status StatusFunc, logger core.ILogger) *Server {
	return &Server{
		port:   port,
		health: health,
		status: status,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if s.health != nil {
		mux.Handle("/healthz", s.health)
	}
	if s.status != nil {
		mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(s.status()); err != nil {
				s.logger.Warn("Failed to encode status", "error", err)
			}
		})
	}
	return mux
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = &http.Server{Handler: s.Handler()}
	srv := s.srv
	s.mu.Unlock()

	go func() {
		s.logger.Info("Starting Prometheus metrics server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, empty before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("Stopping metrics server")
	return srv.Shutdown(ctx)
}
