package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rickgao/pushgate/internal/auth"
	"github.com/rickgao/pushgate/internal/broadcast"
	"github.com/rickgao/pushgate/internal/metrics"
	"github.com/rickgao/pushgate/internal/registry"
)

// Verifier gates the connect phase. Satisfied by *auth.Verifier.
type Verifier interface {
	Verify(ctx context.Context, token string) (auth.Claims, error)
}

// Broadcaster fans payloads out. Satisfied by *broadcast.Broadcaster.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload []byte, excludeID string) (broadcast.Result, error)
}

// Publisher relays locally-originated broadcasts to peer instances.
// Optional; satisfied by *relay.Relay.
type Publisher interface {
	Publish(payload []byte) error
}

// Config configures the router.
type Config struct {
	AuthEnabled     bool
	RegistryTimeout time.Duration // Deadline per registry call
}

// Router dispatches inbound events to the lifecycle handlers.
type Router struct {
	cfg         Config
	verifier    Verifier // nil when auth is disabled
	registry    registry.Registry
	broadcaster Broadcaster
	publisher   Publisher // nil when the relay is disabled
	metrics     *metrics.Metrics
	logger      *slog.Logger

	received     atomic.Int64
	accepted     atomic.Int64
	rejected     atomic.Int64
	broadcasts   atomic.Int64
	unrecognized atomic.Int64
}

// New creates a Router. verifier is required when cfg.AuthEnabled;
// publisher and m may be nil.
func New(cfg Config, verifier Verifier, reg registry.Registry, b Broadcaster, publisher Publisher, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RegistryTimeout <= 0 {
		cfg.RegistryTimeout = 3 * time.Second
	}

	return &Router{
		cfg:         cfg,
		verifier:    verifier,
		registry:    reg,
		broadcaster: b,
		publisher:   publisher,
		metrics:     m,
		logger:      logger,
	}
}

// Handle routes one inbound event and returns its transport status.
func (r *Router) Handle(ctx context.Context, e Event) Result {
	r.received.Add(1)
	if r.metrics != nil {
		r.metrics.EventsTotal.WithLabelValues(string(e.Phase)).Inc()
	}

	switch e.Phase {
	case PhaseConnect:
		return r.handleConnect(ctx, e)
	case PhaseDisconnect:
		return r.handleDisconnect(ctx, e)
	case PhaseMessage:
		return r.handleMessage(ctx, e)
	default:
		return r.handleDefault(e)
	}
}

// handleConnect authorizes the socket and persists the registry entry.
// This is the only handler allowed to reject.
func (r *Router) handleConnect(ctx context.Context, e Event) Result {
	identity := ""

	if r.cfg.AuthEnabled {
		token := bearerToken(e.Headers)
		if token == "" {
			r.reject(e.ConnectionID, auth.ReasonMalformed, errors.New("no token in request"))
			return Result{Status: http.StatusUnauthorized}
		}

		claims, err := r.verifier.Verify(ctx, token)
		if err != nil {
			reason := auth.ReasonMalformed
			var authError *auth.AuthError
			if errors.As(err, &authError) {
				reason = authError.Reason
			}
			r.reject(e.ConnectionID, reason, err)
			return Result{Status: http.StatusUnauthorized}
		}

		identity = claims.Subject
	}

	connectedAt := e.ReceivedAt
	if connectedAt.IsZero() {
		connectedAt = time.Now()
	}

	putCtx, cancel := context.WithTimeout(ctx, r.cfg.RegistryTimeout)
	defer cancel()

	err := r.registry.Put(putCtx, registry.Connection{
		ID:          e.ConnectionID,
		Identity:    identity,
		ConnectedAt: connectedAt,
	})
	if err != nil {
		// A connection the registry cannot see would never receive a
		// broadcast; refuse it rather than accept a ghost.
		r.rejected.Add(1)
		r.logger.Error("connect failed to persist",
			"connection_id", e.ConnectionID,
			"error", err,
		)
		return Result{Status: http.StatusInternalServerError}
	}

	r.accepted.Add(1)
	r.logger.Info("connection accepted",
		"connection_id", e.ConnectionID,
		"identity", identity,
	)
	return Result{Status: http.StatusOK, Identity: identity}
}

// handleDisconnect removes the registry entry. Best-effort: a store
// failure is logged, never surfaced, since the socket is already gone.
func (r *Router) handleDisconnect(ctx context.Context, e Event) Result {
	delCtx, cancel := context.WithTimeout(ctx, r.cfg.RegistryTimeout)
	defer cancel()

	if err := r.registry.Delete(delCtx, e.ConnectionID); err != nil {
		r.logger.Warn("disconnect cleanup failed",
			"connection_id", e.ConnectionID,
			"error", err,
		)
	} else {
		r.logger.Debug("connection removed", "connection_id", e.ConnectionID)
	}

	return Result{Status: http.StatusOK}
}

// handleMessage parses the envelope and dispatches on its action. Malformed
// bodies and unknown actions fall through to the default handler; the
// transport always sees 200 for an established socket.
func (r *Router) handleMessage(ctx context.Context, e Event) Result {
	msg, err := decodeMessage(e.Body)
	if err != nil {
		r.logger.Debug("malformed envelope",
			"connection_id", e.ConnectionID,
			"error", err,
		)
		return r.handleDefault(e)
	}

	switch m := msg.(type) {
	case BroadcastMessage:
		r.broadcasts.Add(1)

		result, err := r.broadcaster.Broadcast(ctx, m.Payload, e.ConnectionID)
		if err != nil {
			// Snapshot read failed; internal bookkeeping only. The client
			// has no channel for out-of-band errors after the handshake.
			r.logger.Error("broadcast snapshot failed",
				"connection_id", e.ConnectionID,
				"error", err,
			)
			return Result{Status: http.StatusOK}
		}

		if r.publisher != nil {
			if err := r.publisher.Publish(m.Payload); err != nil {
				r.logger.Warn("relay publish failed", "error", err)
			}
		}

		r.logger.Debug("broadcast dispatched",
			"connection_id", e.ConnectionID,
			"delivered", result.Delivered,
			"pruned", result.Pruned,
			"failed", result.Failed,
		)
		return Result{Status: http.StatusOK}

	case UnknownMessage:
		return r.handleDefault(e)

	default:
		return r.handleDefault(e)
	}
}

// handleDefault acknowledges receipt and takes no further action. Never
// errors: a hard transport-level rejection for a malformed envelope would
// make the gateway drop the socket.
func (r *Router) handleDefault(e Event) Result {
	r.unrecognized.Add(1)
	return Result{Status: http.StatusOK}
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Received:     r.received.Load(),
		Accepted:     r.accepted.Load(),
		Rejected:     r.rejected.Load(),
		Broadcasts:   r.broadcasts.Load(),
		Unrecognized: r.unrecognized.Load(),
	}
}

func (r *Router) reject(connectionID string, reason auth.Reason, err error) {
	r.rejected.Add(1)
	if r.metrics != nil {
		r.metrics.AuthFailures.WithLabelValues(string(reason)).Inc()
	}
	r.logger.Info("connection rejected",
		"connection_id", connectionID,
		"reason", reason,
		"error", err,
	)
}

// bearerToken extracts the token from the Authorization header, falling
// back to the "token" cookie.
func bearerToken(h http.Header) string {
	if v := h.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer ")
	}

	req := http.Request{Header: h}
	if c, err := req.Cookie("token"); err == nil {
		return c.Value
	}

	return ""
}
