package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// socket is the minimal surface the hub needs from a WebSocket connection.
// *websocket.Conn satisfies it; tests use fakes.
type socket interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// hubConn pairs a socket with its write lock. gorilla/websocket allows at
// most one concurrent writer per connection.
type hubConn struct {
	sock    socket
	writeMu sync.Mutex
}

// Hub tracks the live sockets on this instance and implements Sender.
type Hub struct {
	writeTimeout time.Duration
	logger       *slog.Logger

	mu    sync.RWMutex
	conns map[string]*hubConn
}

// NewHub creates an empty hub.
func NewHub(writeTimeout time.Duration, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		writeTimeout: writeTimeout,
		logger:       logger,
		conns:        make(map[string]*hubConn),
	}
}

// Add registers an open socket under the given connection id.
func (h *Hub) Add(id string, s socket) {
	h.mu.Lock()
	h.conns[id] = &hubConn{sock: s}
	h.mu.Unlock()
}

// AddConn registers a gorilla connection. Exists so callers outside the
// package can hand sockets to the hub.
func (h *Hub) AddConn(id string, conn *websocket.Conn) {
	h.Add(id, conn)
}

// Remove drops and closes the socket for the given id. Idempotent.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()

	if ok {
		c.sock.Close()
	}
}

// Len returns the number of live sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Post pushes payload to one connection. An unknown id returns ErrGone.
// Any write failure drops the socket; a timed-out write reports a
// *TransientError (a momentarily slow recipient is not a gone one), while
// a hard write error reports ErrGone so the registry entry is pruned on
// the first broadcast that observes it.
func (h *Hub) Post(ctx context.Context, connectionID string, payload []byte) error {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()

	if !ok {
		return ErrGone
	}

	deadline := time.Now().Add(h.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	c.sock.SetWriteDeadline(deadline)
	err := c.sock.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()

	if err != nil {
		// A deadline expiry poisons the gorilla connection, so the socket
		// is dropped either way.
		h.Remove(connectionID)
		h.logger.Debug("push failed, socket dropped",
			"connection_id", connectionID,
			"error", err,
		)

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &TransientError{Err: err}
		}
		return ErrGone
	}

	return nil
}

// Close drops and closes every socket. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*hubConn)
	h.mu.Unlock()

	for _, c := range conns {
		c.sock.Close()
	}
}
