package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tyrowin/gochat-gateway/internal/identity"
	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// Server is the gateway's transport: HTTP routes, WebSocket upgrades and
// the client hub.
type Server struct {
	cfg        Config
	hub        *Hub
	gateway    Gateway
	upgrader   websocket.Upgrader
	gatherer   prometheus.Gatherer
	clock      clock.Clock
	log        *slog.Logger
	httpServer *http.Server
}

// New builds a Server around hub and gw. Metrics are served from gatherer.
func New(cfg Config, hub *Hub, gw Gateway, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	cfg = cfg.sanitize()
	origins := newOriginPolicy(cfg.AllowedOrigins(), log)
	s := &Server{
		cfg:      cfg,
		hub:      hub,
		gateway:  gw,
		gatherer: gatherer,
		clock:    clock.New(),
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{identity.BearerSubprotocol},
			CheckOrigin:     origins.checkOrigin,
		},
	}
	s.httpServer = CreateServer(cfg.Addr, s.Routes())
	return s
}

// StartHub runs the hub's event loop in its own goroutine. It must be called
// once before the first WebSocket upgrade.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.log.Info("Hub started and ready to manage WebSocket connections")
}

// Run serves until ctx is cancelled or the listener fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	s.StartHub()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return multierr.Append(err, s.hub.Shutdown(s.cfg.ShutdownTimeout))
	case <-ctx.Done():
		return s.Shutdown(s.cfg.ShutdownTimeout)
	}
}

// Shutdown stops the HTTP listener and then closes every client connection.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.log.Info("Shutting down HTTP server")
	return multierr.Combine(
		ShutdownServer(s.httpServer, timeout),
		s.hub.Shutdown(timeout),
	)
}
