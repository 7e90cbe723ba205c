package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paperTrader/internal/ports"
)

// Server exposes /metrics plus any extra routes (dashboard JSON, alert stream).
type Server struct {
	addr   string
	mux    *http.ServeMux
	srv    *http.Server
	logger ports.Logger
}

// NewServer creates a metrics server for m on addr.
func NewServer(addr string, m *Metrics, logger ports.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	return &Server{
		addr:   addr,
		mux:    mux,
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle mounts an extra route. Call it before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the route table, for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start binds the listener and serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		s.logger.Info(context.Background(), "Metrics server listening", map[string]interface{}{"addr": ln.Addr().String()})
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(context.Background(), err, "Metrics server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
