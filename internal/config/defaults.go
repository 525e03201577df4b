package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr       = ":8080"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadLimit        = 128 * 1024
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPongTimeout      = 90 * time.Second
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultRegistryBackend  = "memory"
	DefaultRegistryTimeout  = 3 * time.Second
	DefaultRedisKeyPrefix   = "pushgate"
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultConcurrency      = 64
	DefaultPushTimeout      = 5 * time.Second
	DefaultRelaySubject     = "pushgate.broadcast"
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
)

func (c *GatewayConfig) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.PongTimeout == 0 {
		c.Server.PongTimeout = DefaultPongTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Auth defaults
	if c.Auth.Enabled && c.Auth.JWKSURL == "" && c.Auth.Issuer != "" {
		c.Auth.JWKSURL = c.Auth.Issuer + "/.well-known/jwks.json"
	}

	// Registry defaults
	if c.Registry.Backend == "" {
		c.Registry.Backend = DefaultRegistryBackend
	}
	if c.Registry.Timeout == 0 {
		c.Registry.Timeout = DefaultRegistryTimeout
	}
	if c.Registry.Redis.KeyPrefix == "" {
		c.Registry.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	applyDBDefaults(&c.Registry.Postgres)

	// Broadcast defaults
	if c.Broadcast.Concurrency == 0 {
		c.Broadcast.Concurrency = DefaultConcurrency
	}
	if c.Broadcast.PushTimeout == 0 {
		c.Broadcast.PushTimeout = DefaultPushTimeout
	}

	// Relay defaults
	if c.Relay.Subject == "" {
		c.Relay.Subject = DefaultRelaySubject
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
