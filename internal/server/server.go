// Package server exposes the session over WebSocket and serves read-only
// status endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jacokyle01/analysis-bridge/internal/log"
	"github.com/jacokyle01/analysis-bridge/internal/models"
	"github.com/jacokyle01/analysis-bridge/internal/session"
)

const maxMessageSize = 64 * 1024

// Config for the HTTP listener and per-connection queues.
type Config struct {
	Addr         string
	SendBuffer   int
	WriteTimeout time.Duration
}

// Sessions is the part of session.Manager the transport drives.
type Sessions interface {
	Accept(conn session.Conn)
	HandleMessage(conn session.Conn, raw []byte)
	Disconnect(conn session.Conn)
}

// StatusSource supplies the data behind /health and /analysis.
type StatusSource interface {
	Status() models.Status
	Snapshot() (models.Snapshot, bool)
}

// Server is the HTTP and WebSocket front end.
type Server struct {
	cfg      Config
	sessions Sessions
	status   StatusSource
	logger   zerolog.Logger

	upgrader websocket.Upgrader
	http     *http.Server
	ln       net.Listener

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

// New creates a server. Call Listen then Serve.
func New(cfg Config, sessions Sessions, status StatusSource) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		status:   status,
		logger:   log.For("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients reach the bridge through tunnels on arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*wsConn]struct{}),
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/analysis", s.handleAnalysis)
	return mux
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// Serve blocks until Shutdown.
func (s *Server) Serve() error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	if err := s.http.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and hangs up on any still open.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(session.CloseGoingAway, session.ReasonShutdown)
	}

	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) track(c *wsConn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}
