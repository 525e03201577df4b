package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrGone signals that the addressed connection no longer exists and can
// be safely purged from the registry.
var ErrGone = errors.New("connection gone")

// TransientError signals that delivery failed for a recoverable reason
// (timeout, backpressure). The connection must not be purged; a momentarily
// slow recipient is not a gone one.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Sender is the management channel used to push payloads to connections.
type Sender interface {
	// Post delivers payload to the addressed connection. It returns nil,
	// ErrGone, or a *TransientError.
	Post(ctx context.Context, connectionID string, payload []byte) error
}
