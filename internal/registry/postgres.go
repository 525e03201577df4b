package registry

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/pushgate/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRegistry stores the connection table in a single connections
// table keyed by (instance id, connection id). Instances share the table
// but see only their own rows; the hub that answers GONE for a connection
// and the registry rows it prunes must belong to the same process.
type PostgresRegistry struct {
	pool       *pgxpool.Pool
	instanceID string
	logger     *slog.Logger
}

// NewPostgresRegistry connects to PostgreSQL, runs schema migrations,
// and verifies the connection. instanceID scopes every operation to this
// gateway instance's rows.
func NewPostgresRegistry(ctx context.Context, cfg config.DBConfig, instanceID string, logger *slog.Logger) (*PostgresRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := runMigrations(cfg); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(BuildConnString("postgres", cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresRegistry{
		pool:       pool,
		instanceID: instanceID,
		logger:     logger,
	}, nil
}

// runMigrations applies embedded schema migrations.
func runMigrations(cfg config.DBConfig) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, BuildConnString("pgx5", cfg))
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Put upserts a connection entry.
func (r *PostgresRegistry) Put(ctx context.Context, conn Connection) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO connections (instance_id, connection_id, identity, connected_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (instance_id, connection_id)
		DO UPDATE SET identity = EXCLUDED.identity, connected_at = EXCLUDED.connected_at
	`, r.instanceID, conn.ID, conn.Identity, conn.ConnectedAt)
	if err != nil {
		return storeErr("put", err)
	}
	return nil
}

// Delete removes a connection entry. Absent ids are a no-op.
func (r *PostgresRegistry) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM connections WHERE instance_id = $1 AND connection_id = $2`,
		r.instanceID, id)
	if err != nil {
		return storeErr("delete", err)
	}
	return nil
}

// List returns a snapshot of this instance's entries.
func (r *PostgresRegistry) List(ctx context.Context) ([]Connection, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT connection_id, identity, connected_at FROM connections WHERE instance_id = $1`,
		r.instanceID)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		var conn Connection
		if err := rows.Scan(&conn.ID, &conn.Identity, &conn.ConnectedAt); err != nil {
			return nil, storeErr("list", err)
		}
		out = append(out, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (r *PostgresRegistry) Close() {
	r.pool.Close()
}
