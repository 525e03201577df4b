// Package broadcast implements the Broadcaster component.
//
// A broadcast reads a snapshot of the connection registry, pushes the
// payload to every entry concurrently, and classifies each outcome:
// delivered, pruned (GONE, the entry is lazily deleted), or transient
// failure (logged and counted, never retried, registry untouched).
// Partial failure is expected and non-fatal; a broadcast never aborts
// early. No lock spans the list-then-push-then-prune sequence: the
// registry is self-healing, so racing connects and disconnects are fine.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/pushgate/internal/metrics"
	"github.com/rickgao/pushgate/internal/registry"
	"github.com/rickgao/pushgate/internal/transport"
)

// Config holds fan-out settings.
type Config struct {
	Concurrency     int           // Max parallel pushes per broadcast
	PushTimeout     time.Duration // Deadline per individual push
	RegistryTimeout time.Duration // Deadline per registry call
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     64,
		PushTimeout:     5 * time.Second,
		RegistryTimeout: 3 * time.Second,
	}
}

// Result is the aggregate outcome of one broadcast.
type Result struct {
	Delivered int // Pushes that succeeded
	Pruned    int // GONE recipients removed from the registry
	Failed    int // Transient failures; not retried, registry untouched
}

// Broadcaster fans a payload out to registered connections.
type Broadcaster struct {
	cfg      Config
	registry registry.Registry
	sender   transport.Sender
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Broadcaster. metrics may be nil.
func New(cfg Config, reg registry.Registry, sender transport.Sender, m *metrics.Metrics, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = DefaultConfig().PushTimeout
	}
	if cfg.RegistryTimeout <= 0 {
		cfg.RegistryTimeout = DefaultConfig().RegistryTimeout
	}

	return &Broadcaster{
		cfg:      cfg,
		registry: reg,
		sender:   sender,
		metrics:  m,
		logger:   logger,
	}
}

// Broadcast pushes payload to every registered connection except
// excludeID. It waits for all pushes to settle and reports aggregate
// counts. The only error it returns is a registry snapshot failure;
// per-recipient failures are absorbed into the Result.
func (b *Broadcaster) Broadcast(ctx context.Context, payload []byte, excludeID string) (Result, error) {
	start := time.Now()

	// Registry calls carry their own deadline; a hung backend must not
	// hang the broadcast.
	listCtx, cancel := context.WithTimeout(ctx, b.cfg.RegistryTimeout)
	conns, err := b.registry.List(listCtx)
	cancel()
	if err != nil {
		return Result{}, err
	}

	var delivered, pruned, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(b.cfg.Concurrency)

	for _, conn := range conns {
		if conn.ID == excludeID {
			continue
		}

		conn := conn
		g.Go(func() error {
			b.push(ctx, conn.ID, payload, &delivered, &pruned, &failed)
			return nil
		})
	}

	// Goroutines never return errors; Wait is just the settle barrier.
	g.Wait()

	result := Result{
		Delivered: int(delivered.Load()),
		Pruned:    int(pruned.Load()),
		Failed:    int(failed.Load()),
	}

	if b.metrics != nil {
		b.metrics.PushesTotal.WithLabelValues(metrics.OutcomeDelivered).Add(float64(result.Delivered))
		b.metrics.PushesTotal.WithLabelValues(metrics.OutcomePruned).Add(float64(result.Pruned))
		b.metrics.PushesTotal.WithLabelValues(metrics.OutcomeTransient).Add(float64(result.Failed))
		b.metrics.BroadcastSeconds.Observe(time.Since(start).Seconds())
	}

	b.logger.Info("broadcast complete",
		"targets", len(conns),
		"delivered", result.Delivered,
		"pruned", result.Pruned,
		"failed", result.Failed,
		"duration", time.Since(start),
	)

	return result, nil
}

// push delivers to a single recipient and classifies the outcome.
func (b *Broadcaster) push(ctx context.Context, id string, payload []byte, delivered, pruned, failed *atomic.Int64) {
	pushCtx, cancel := context.WithTimeout(ctx, b.cfg.PushTimeout)
	err := b.sender.Post(pushCtx, id, payload)
	cancel()

	switch {
	case err == nil:
		delivered.Add(1)

	case errors.Is(err, transport.ErrGone):
		// Lazy cleanup: this is the registry's primary self-healing path,
		// since explicit disconnect notifications are not always delivered.
		pruned.Add(1)
		delCtx, delCancel := context.WithTimeout(ctx, b.cfg.RegistryTimeout)
		derr := b.registry.Delete(delCtx, id)
		delCancel()
		if derr != nil {
			b.logger.Warn("failed to prune gone connection",
				"connection_id", id,
				"error", derr,
			)
		}

	default:
		// Timeouts land here too: a momentarily slow recipient must not
		// be pruned.
		failed.Add(1)
		b.logger.Warn("transient push failure",
			"connection_id", id,
			"error", err,
		)
	}
}
