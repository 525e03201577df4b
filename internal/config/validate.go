package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *GatewayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Auth.Enabled {
		if c.Auth.Issuer == "" {
			return errors.New("auth.issuer is required when auth is enabled")
		}
		if c.Auth.Audience == "" {
			return errors.New("auth.audience is required when auth is enabled")
		}
		if c.Auth.JWKSURL == "" {
			return errors.New("auth.jwks_url is required when auth is enabled")
		}
	}

	switch c.Registry.Backend {
	case "memory":
	case "redis":
		if c.Registry.Redis.Addr == "" {
			return errors.New("registry.redis.addr is required for the redis backend")
		}
	case "postgres":
		if err := c.Registry.Postgres.validate("registry.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("registry.backend must be memory, redis, or postgres, got %q", c.Registry.Backend)
	}

	if c.Broadcast.Concurrency < 1 {
		return errors.New("broadcast.concurrency must be >= 1")
	}
	if c.Broadcast.PushTimeout <= 0 {
		return errors.New("broadcast.push_timeout must be > 0")
	}

	if c.Relay.Enabled && c.Relay.URL == "" {
		return errors.New("relay.url is required when relay is enabled")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
