package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/matheus3301/ventchat/internal/config"
	"github.com/matheus3301/ventchat/internal/metrics"
	"github.com/matheus3301/ventchat/internal/offline"
)

// Server exposes /metrics and /healthz over HTTP. It is disabled when no
// metrics address is configured.
type Server struct {
	httpServer *http.Server
	addr       string
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer creates the HTTP server for the configured metrics address.
func NewServer(cfg *config.Config, m *metrics.Metrics, mgr *offline.Manager, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"state": string(mgr.State())})
	})
	return &Server{
		httpServer: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr:       cfg.MetricsAddr,
		logger:     logger,
	}
}

// Addr returns the bound address, or "" before Start or when disabled.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.logger.Info("metrics server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	if s.listener == nil {
		return
	}
	s.logger.Info("metrics server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}
