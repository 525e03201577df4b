// Package server hosts the gateway's HTTP surface: the WebSocket upgrade
// endpoint and a health check. It owns the translation from sockets to
// router events: connect on upgrade, a message event per inbound frame,
// and disconnect when the read loop ends.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/pushgate/internal/config"
	"github.com/rickgao/pushgate/internal/metrics"
	"github.com/rickgao/pushgate/internal/router"
	"github.com/rickgao/pushgate/internal/transport"
)

// Server accepts sockets and feeds the router.
type Server struct {
	cfg     config.ServerConfig
	hub     *transport.Hub
	router  *router.Router
	metrics *metrics.Metrics
	logger  *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	wg       sync.WaitGroup
}

// New creates a Server. metrics may be nil.
func New(cfg config.ServerConfig, hub *transport.Hub, rtr *router.Router, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		hub:     hub,
		router:  rtr,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			// Origin enforcement belongs to the fronting proxy; the
			// gateway itself gates on the bearer token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	return s
}

// Handler exposes the HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving. It blocks until the listener fails or Stop is
// called; http.ErrServerClosed is swallowed.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", "addr", s.cfg.ListenAddr)

	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the listener down, closes every socket, and waits for read
// loops to drain.
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)

	s.hub.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gateway stopped")
	case <-ctx.Done():
		s.logger.Warn("gateway stop timed out")
	}

	return err
}

// handleUpgrade runs the connect phase and, on acceptance, promotes the
// request to a WebSocket and starts the read loop.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	connID := uuid.NewString()

	result := s.router.Handle(r.Context(), router.Event{
		ConnectionID: connID,
		Phase:        router.PhaseConnect,
		Headers:      r.Header,
		ReceivedAt:   time.Now(),
	})

	if result.Status != http.StatusOK {
		http.Error(w, http.StatusText(result.Status), result.Status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The registry entry exists but the socket never did; clean up
		// the same way a normal teardown would.
		s.logger.Warn("upgrade failed after accept", "connection_id", connID, "error", err)
		s.router.Handle(context.Background(), router.Event{
			ConnectionID: connID,
			Phase:        router.PhaseDisconnect,
			ReceivedAt:   time.Now(),
		})
		return
	}

	s.hub.AddConn(connID, conn)
	if s.metrics != nil {
		s.metrics.ConnectionsActive.Inc()
	}

	s.wg.Add(1)
	go s.readLoop(connID, result.Identity, conn)
}

// readLoop turns inbound frames into message events until the socket dies,
// then synthesizes the disconnect event.
func (s *Server) readLoop(connID, identity string, conn *websocket.Conn) {
	defer s.wg.Done()

	logger := s.logger.With("connection_id", connID, "identity", identity)

	defer func() {
		s.hub.Remove(connID)
		if s.metrics != nil {
			s.metrics.ConnectionsActive.Dec()
		}
		s.router.Handle(context.Background(), router.Event{
			ConnectionID: connID,
			Phase:        router.PhaseDisconnect,
			ReceivedAt:   time.Now(),
		})
		logger.Debug("read loop ended")
	}()

	conn.SetReadLimit(s.cfg.ReadLimit)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	// WriteControl is safe concurrently with the hub's writes.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(conn, pingDone)

	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("socket closed", "error", err)
			}
			return
		}

		s.router.Handle(context.Background(), router.Event{
			ConnectionID: connID,
			Phase:        router.PhaseMessage,
			Body:         data,
			ReceivedAt:   receivedAt,
		})
	}
}

// pingLoop keeps the socket alive and lets the pong deadline detect death.
func (s *Server) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
