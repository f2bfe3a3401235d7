package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	errQueueFull  = errors.New("outbound queue full")
	errConnClosed = errors.New("connection closed")
)

type closeFrame struct {
	code   int
	reason string
}

// wsConn adapts a websocket to session.Conn. Sends are queued for a
// dedicated writer goroutine; a full queue drops the message.
type wsConn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration
	logger       zerolog.Logger

	out      chan []byte
	closeReq chan closeFrame
	done     chan struct{}

	closeOnce sync.Once
	doneOnce  sync.Once
}

func newConn(id string, ws *websocket.Conn, buffer int, writeTimeout time.Duration, logger zerolog.Logger) *wsConn {
	return &wsConn{
		id:           id,
		ws:           ws,
		writeTimeout: writeTimeout,
		logger:       logger.With().Str("conn", id).Logger(),
		out:          make(chan []byte, buffer),
		closeReq:     make(chan closeFrame, 1),
		done:         make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send enqueues payload without blocking.
func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- payload:
		return nil
	default:
		c.logger.Warn().Int("queued", len(c.out)).Msg("outbound queue full, dropping message")
		return errQueueFull
	}
}

// Close asks the writer to send a close frame and hang up.
func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeReq <- closeFrame{code: code, reason: reason}
	})
	return nil
}

// finish marks the connection dead once the reader has stopped.
func (c *wsConn) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *wsConn) writeLoop() {
	defer c.ws.Close()
	for {
		select {
		case payload := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case f := <-c.closeReq:
			msg := websocket.FormatCloseMessage(f.code, f.reason)
			if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug().Err(err).Msg("write close frame")
			}
			return
		case <-c.done:
			return
		}
	}
}
