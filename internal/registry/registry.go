package registry

import (
	"context"
	"fmt"
	"time"
)

// Connection represents one live socket as seen by the registry.
type Connection struct {
	ID          string    `json:"connection_id"`
	Identity    string    `json:"identity,omitempty"` // Token subject, empty when auth is disabled
	ConnectedAt time.Time `json:"connected_at"`
}

// Registry is the durable connection table.
type Registry interface {
	// Put upserts a connection entry. Idempotent.
	Put(ctx context.Context, conn Connection) error

	// Delete removes a connection entry. Idempotent; deleting an absent
	// id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns a snapshot of all entries. The snapshot may be stale
	// relative to concurrent puts and deletes.
	List(ctx context.Context) ([]Connection, error)
}

// StoreError wraps a backend read/write failure.
type StoreError struct {
	Op  string // "put", "delete", or "list"
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}
