package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rickgao/pushgate/internal/auth"
	"github.com/rickgao/pushgate/internal/broadcast"
	"github.com/rickgao/pushgate/internal/config"
	"github.com/rickgao/pushgate/internal/metrics"
	"github.com/rickgao/pushgate/internal/registry"
	"github.com/rickgao/pushgate/internal/relay"
	"github.com/rickgao/pushgate/internal/router"
	"github.com/rickgao/pushgate/internal/server"
	"github.com/rickgao/pushgate/internal/transport"
	"github.com/rickgao/pushgate/internal/version"
)

func main() {
	// Optional; config files reference env vars via ${VAR}
	godotenv.Load()

	configPath := flag.String("config", "configs/gateway.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"listen_addr", cfg.Server.ListenAddr,
		"registry_backend", cfg.Registry.Backend,
		"auth_enabled", cfg.Auth.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	m := metrics.New()

	// Connection registry
	reg, closeRegistry, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create registry", "error", err)
		os.Exit(1)
	}
	defer closeRegistry()

	logger.Info("registry ready", "backend", cfg.Registry.Backend)

	// Token verifier
	var verifier router.Verifier
	if cfg.Auth.Enabled {
		v, err := auth.NewVerifier(auth.VerifierConfig{
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
			JWKSURL:  cfg.Auth.JWKSURL,
		}, logger)
		if err != nil {
			logger.Error("failed to create verifier", "error", err)
			os.Exit(1)
		}
		verifier = v
		logger.Info("token verification enabled", "issuer", cfg.Auth.Issuer)
	}

	hub := transport.NewHub(cfg.Server.WriteTimeout, logger)

	broadcaster := broadcast.New(broadcast.Config{
		Concurrency:     cfg.Broadcast.Concurrency,
		PushTimeout:     cfg.Broadcast.PushTimeout,
		RegistryTimeout: cfg.Registry.Timeout,
	}, reg, hub, m, logger)

	// Cross-instance relay
	var publisher router.Publisher
	if cfg.Relay.Enabled {
		rl, err := relay.New(cfg.Relay, cfg.Instance.ID, broadcaster, logger)
		if err != nil {
			logger.Error("failed to connect to relay", "error", err)
			os.Exit(1)
		}
		if err := rl.Start(); err != nil {
			logger.Error("failed to start relay", "error", err)
			os.Exit(1)
		}
		defer rl.Stop()
		publisher = rl
		logger.Info("relay connected", "url", cfg.Relay.URL, "subject", cfg.Relay.Subject)
	}

	rtr := router.New(router.Config{
		AuthEnabled:     cfg.Auth.Enabled,
		RegistryTimeout: cfg.Registry.Timeout,
	}, verifier, reg, broadcaster, publisher, m, logger)

	srv := server.New(cfg.Server, hub, rtr, m, logger)

	// Metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Metrics.Path, m.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: metricsMux,
	}

	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("gateway server error", "error", err)
			cancel()
		}
	}()

	logger.Info("gateway running",
		"instance_id", cfg.Instance.ID,
		"ws_url", fmt.Sprintf("ws://localhost%s/ws", cfg.Server.ListenAddr),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	srv.Stop(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("gateway stopped")
}

// buildRegistry creates the configured registry backend and returns it with
// its cleanup function.
func buildRegistry(ctx context.Context, cfg *config.GatewayConfig, logger *slog.Logger) (registry.Registry, func(), error) {
	switch cfg.Registry.Backend {
	case "memory":
		return registry.NewMemoryRegistry(), func() {}, nil

	case "redis":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		r, err := registry.NewRedisRegistry(connectCtx, cfg.Registry.Redis, cfg.Instance.ID, logger)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil

	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		r, err := registry.NewPostgresRegistry(connectCtx, cfg.Registry.Postgres, cfg.Instance.ID, logger)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown registry backend: %s", cfg.Registry.Backend)
	}
}
