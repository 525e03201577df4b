// Package relay fans broadcasts out across gateway instances.
//
// Each instance holds only its own sockets, so a broadcast originating on
// one instance must also reach peers. The relay publishes every local
// broadcast to a NATS subject and replays peer broadcasts through the
// local Broadcaster. Messages carry the origin instance id so an instance
// never re-delivers its own traffic.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rickgao/pushgate/internal/broadcast"
	"github.com/rickgao/pushgate/internal/config"
)

// replayTimeout bounds the local fan-out of one relayed message.
const replayTimeout = 30 * time.Second

// Broadcaster is the local fan-out the relay replays into.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload []byte, excludeID string) (broadcast.Result, error)
}

// envelope is the wire format on the relay subject.
type envelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// Relay connects a gateway instance to its peers.
type Relay struct {
	conn        *nats.Conn
	sub         *nats.Subscription
	subject     string
	origin      string
	broadcaster Broadcaster
	logger      *slog.Logger
}

// New connects to NATS. Start must be called before peer messages flow.
func New(cfg config.RelayConfig, instanceID string, b Broadcaster, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("pushgate-"+instanceID))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &Relay{
		conn:        conn,
		subject:     cfg.Subject,
		origin:      instanceID,
		broadcaster: b,
		logger:      logger,
	}, nil
}

// Start subscribes to the relay subject.
func (r *Relay) Start() error {
	sub, err := r.conn.Subscribe(r.subject, func(msg *nats.Msg) {
		r.handle(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.subject, err)
	}

	r.sub = sub
	r.logger.Info("relay started", "subject", r.subject, "origin", r.origin)
	return nil
}

// Publish relays a locally-originated broadcast payload to peers.
func (r *Relay) Publish(payload []byte) error {
	data, err := json.Marshal(envelope{Origin: r.origin, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	return r.conn.Publish(r.subject, data)
}

// handle replays one relayed message through the local broadcaster.
func (r *Relay) handle(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("dropping malformed relay message", "error", err)
		return
	}

	// Our own publishes come back on the subject; skip them.
	if env.Origin == r.origin {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), replayTimeout)
	defer cancel()

	result, err := r.broadcaster.Broadcast(ctx, env.Payload, "")
	if err != nil {
		r.logger.Warn("relayed broadcast failed", "origin", env.Origin, "error", err)
		return
	}

	r.logger.Debug("relayed broadcast",
		"origin", env.Origin,
		"delivered", result.Delivered,
		"pruned", result.Pruned,
	)
}

// Stop unsubscribes and drains the connection.
func (r *Relay) Stop() {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	if r.conn != nil {
		r.conn.Drain()
	}
}
