// Package session admits one remote client at a time, decodes its commands
// for a Listener and carries broadcasts back to it.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jacokyle01/analysis-bridge/internal/log"
	"github.com/jacokyle01/analysis-bridge/internal/models"
)

// Close codes sent to clients.
const (
	CloseGoingAway = 1001
	CloseDisplaced = 1008

	ReasonDisplaced = "displaced by a new client"
	ReasonShutdown  = "server shutting down"
)

var (
	ErrMalformedMessage = errors.New("malformed client message")
	ErrUnknownCommand   = errors.New("unknown command")
)

// Conn is one client connection. Send must not block on a slow client.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Close(code int, reason string) error
}

// Listener receives decoded client commands and session changes.
type Listener interface {
	Analyze(fen string)
	Stop()
	ClientConnected(id string)
	ClientDisconnected(id string)
}

// Manager holds at most one live connection.
type Manager struct {
	listener Listener
	logger   zerolog.Logger

	// notifyMu orders ClientConnected and ClientDisconnected the same way
	// the live connection changes. It is never held by Broadcast or Send.
	notifyMu sync.Mutex

	mu   sync.Mutex
	live Conn
}

// NewManager returns a Manager that reports to l.
func NewManager(l Listener) *Manager {
	return &Manager{
		listener: l,
		logger:   log.For("session"),
	}
}

// Accept makes conn the live session, closing whichever connection it
// displaces. A running search carries over to the new client.
func (m *Manager) Accept(conn Conn) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	prev := m.live
	m.live = conn
	m.mu.Unlock()

	m.listener.ClientConnected(conn.ID())
	if prev != nil {
		m.logger.Info().Str("old", prev.ID()).Str("new", conn.ID()).Msg("client displaced")
		if err := prev.Close(CloseDisplaced, ReasonDisplaced); err != nil {
			m.logger.Debug().Err(err).Str("conn", prev.ID()).Msg("close displaced client")
		}
		return
	}
	m.logger.Info().Str("conn", conn.ID()).Msg("client connected")
}

// HandleMessage decodes raw from conn and forwards it to the listener.
// Messages from anything but the live connection are dropped.
func (m *Manager) HandleMessage(conn Conn, raw []byte) {
	if !m.isLive(conn) {
		m.logger.Debug().Str("conn", conn.ID()).Msg("dropping message from inactive client")
		return
	}
	cmd, err := Decode(raw)
	if err != nil {
		m.logger.Warn().Err(err).Str("conn", conn.ID()).Msg("ignoring client message")
		return
	}

	switch cmd.Type {
	case models.TypeAnalyze:
		m.listener.Analyze(cmd.FEN)
	case models.TypeStop:
		m.listener.Stop()
	}
}

func (m *Manager) isLive(conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live != nil && m.live.ID() == conn.ID()
}

// Decode parses and validates a client message.
func Decode(raw []byte) (models.Command, error) {
	var cmd models.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return models.Command{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	switch cmd.Type {
	case "":
		return models.Command{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	case models.TypeAnalyze:
		if cmd.FEN == "" {
			return models.Command{}, fmt.Errorf("%w: analyze without fen", ErrMalformedMessage)
		}
	case models.TypeStop:
		cmd.FEN = ""
	default:
		return models.Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return cmd, nil
}

// Broadcast sends v to the live client, if any. Failures are logged and
// dropped.
func (m *Manager) Broadcast(v any) {
	if err := m.Send(v); err != nil {
		m.logger.Debug().Err(err).Msg("broadcast dropped")
	}
}

// Send encodes v and hands it to the live client. It is a no-op without
// one.
func (m *Manager) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}

	m.mu.Lock()
	conn := m.live
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Send(payload); err != nil {
		return fmt.Errorf("send to %s: %w", conn.ID(), err)
	}
	return nil
}

// Disconnect forgets conn if it is the live session. A displaced
// connection's late disconnect changes nothing.
func (m *Manager) Disconnect(conn Conn) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.live == nil || m.live.ID() != conn.ID() {
		m.mu.Unlock()
		return
	}
	m.live = nil
	m.mu.Unlock()

	m.listener.ClientDisconnected(conn.ID())
	m.logger.Info().Str("conn", conn.ID()).Msg("client disconnected")
}

// Close closes the live session with code and reason.
func (m *Manager) Close(code int, reason string) error {
	m.mu.Lock()
	conn := m.live
	m.live = nil
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Close(code, reason); err != nil {
		return fmt.Errorf("close session %s: %w", conn.ID(), err)
	}
	return nil
}

// Live returns the id of the live connection.
func (m *Manager) Live() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == nil {
		return "", false
	}
	return m.live.ID(), true
}
