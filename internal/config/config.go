package config

import "time"

// GatewayConfig is the root configuration for a gateway instance.
type GatewayConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Registry  RegistryConfig  `yaml:"registry"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Relay     RelayConfig     `yaml:"relay"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this gateway instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// ServerConfig holds the WebSocket listener settings.
type ServerConfig struct {
	ListenAddr       string        `yaml:"listen_addr"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`        // Max inbound frame size in bytes
	WriteTimeout     time.Duration `yaml:"write_timeout"`     // Write deadline per push
	PingInterval     time.Duration `yaml:"ping_interval"`     // Keepalive ping cadence
	PongTimeout      time.Duration `yaml:"pong_timeout"`      // Max time without pong before a socket is stale
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`  // Grace period for in-flight work on shutdown
}

// AuthConfig holds token verification settings.
//
// When Enabled is false the connect phase accepts every socket and records
// no identity. JWKSURL defaults to the issuer's standard well-known path.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	JWKSURL  string `yaml:"jwks_url"`
}

// RegistryConfig selects and configures the connection registry backend.
type RegistryConfig struct {
	Backend  string        `yaml:"backend"` // "memory", "redis", or "postgres"
	Timeout  time.Duration `yaml:"timeout"` // Per-operation deadline for registry calls
	Redis    RedisConfig   `yaml:"redis"`
	Postgres DBConfig      `yaml:"postgres"`
}

// RedisConfig holds a Redis connection.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"` // Namespace for the connections hash
}

// DBConfig holds a single PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// BroadcastConfig holds fan-out settings.
type BroadcastConfig struct {
	Concurrency int           `yaml:"concurrency"`  // Max parallel pushes per broadcast
	PushTimeout time.Duration `yaml:"push_timeout"` // Deadline per individual push
}

// RelayConfig holds cross-instance relay settings.
type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`     // NATS server URL
	Subject string `yaml:"subject"` // Subject broadcasts are relayed on
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
