package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dagu-org/rangeload/internal/cmn/logger"
	"github.com/dagu-org/rangeload/internal/cmn/logger/tag"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /metrics and /health.
type Server struct {
	addr     string
	gatherer prometheus.Gatherer
	server   *http.Server
	listener net.Listener
}

// NewServer returns a server for addr. An empty addr disables it.
func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	return &Server{addr: addr, gatherer: gatherer}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/health", healthHandler)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if s.addr == "" {
		logger.Debug(ctx, "Metrics server disabled")
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Starting metrics server", tag.Addr(ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Metrics server error", tag.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" when the server is not running.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting at most five seconds.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Failed to shutdown metrics server", tag.Error(err))
		return err
	}
	return nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
