package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/pushgate/internal/config"
)

// RedisRegistry stores the connection table in a single Redis hash:
// field = connection id, value = JSON metadata. Hash fields give the
// per-key independence the registry contract asks for, and HGETALL is
// the snapshot read.
type RedisRegistry struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisRegistry connects to Redis and verifies the connection.
//
// instanceID namespaces the hash so gateway instances keep separate
// tables (each instance registers only sockets it hosts).
func NewRedisRegistry(ctx context.Context, cfg config.RedisConfig, instanceID string, logger *slog.Logger) (*RedisRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisRegistry{
		client: client,
		key:    fmt.Sprintf("%s:%s:connections", cfg.KeyPrefix, instanceID),
		logger: logger,
	}, nil
}

// Put upserts a connection entry.
func (r *RedisRegistry) Put(ctx context.Context, conn Connection) error {
	data, err := json.Marshal(conn)
	if err != nil {
		return storeErr("put", err)
	}

	if err := r.client.HSet(ctx, r.key, conn.ID, data).Err(); err != nil {
		return storeErr("put", err)
	}
	return nil
}

// Delete removes a connection entry. Absent ids are a no-op (HDEL on a
// missing field returns 0, not an error).
func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	if err := r.client.HDel(ctx, r.key, id).Err(); err != nil {
		return storeErr("delete", err)
	}
	return nil
}

// List returns a snapshot of all entries. Entries that fail to decode are
// skipped and logged rather than failing the whole read.
func (r *RedisRegistry) List(ctx context.Context) ([]Connection, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, storeErr("list", err)
	}

	out := make([]Connection, 0, len(fields))
	for id, raw := range fields {
		var conn Connection
		if err := json.Unmarshal([]byte(raw), &conn); err != nil {
			r.logger.Warn("skipping corrupt registry entry", "connection_id", id, "error", err)
			continue
		}
		out = append(out, conn)
	}
	return out, nil
}

// Close releases the Redis client.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
