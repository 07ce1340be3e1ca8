// Package ws wires the connection endpoint and the room controller into a
// runnable WebSocket server.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roomarch/roomarch/internal/config"
	"github.com/roomarch/roomarch/internal/endpoint"
	"github.com/roomarch/roomarch/internal/rooms"
)

// Config is the server configuration surface.
type Config = config.Config

// Default returns the stock server configuration.
func Default() *Config {
	return config.Default()
}

// Load reads the configuration from a file and the environment.
func Load(path string) (*Config, error) {
	return config.Load(path)
}

// Server accepts websocket clients on /endpoint and runs the room
// protocol over them.
type Server struct {
	cfg        *Config
	log        *logrus.Logger
	endpoint   *endpoint.Endpoint
	controller *rooms.Controller
	httpServer *http.Server
	listener   net.Listener

	mu      sync.Mutex
	running bool
}

// New builds a server from the configuration. The endpoint's callbacks are
// bound to the controller here, once, before any client can connect.
func New(cfg *Config, log *logrus.Logger) *Server {
	ep := endpoint.New(cfg, log)
	ctrl := rooms.NewController(cfg, log)

	ep.OnConnect(func(c *endpoint.Conn) { ctrl.HandleConnect(c) })
	ep.OnMessage(func(c *endpoint.Conn, data []byte) { ctrl.HandleMessage(c, data) })
	ep.OnDisconnect(func(c *endpoint.Conn) { ctrl.HandleDisconnect(c) })

	return &Server{
		cfg:        cfg,
		log:        log,
		endpoint:   ep,
		controller: ctrl,
	}
}

// Controller exposes the room controller, mainly for inspection in tests.
func (s *Server) Controller() *rooms.Controller {
	return s.controller
}

// Handler returns the upgrade handler, for embedding the endpoint into an
// existing mux instead of running the built-in listener.
func (s *Server) Handler() http.Handler {
	return s.endpoint
}

// Start binds the configured address and begins serving. The listener is
// created synchronously, so a bind failure comes back from Start itself;
// cancelling ctx shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.listener = ln
	s.running = true

	mux := http.NewServeMux()
	mux.Handle("/endpoint", s.endpoint)
	s.httpServer = &http.Server{Handler: mux}
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(stopCtx)
	}()

	s.log.WithField("addr", ln.Addr().String()).Info("server listening")
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes every live connection and shuts the listener down. Stopping
// a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.endpoint.CloseAll()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
