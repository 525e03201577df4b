// Package transport implements the socket transport boundary.
//
// The Hub owns the live WebSocket connections and exposes the management
// channel the Broadcaster pushes through: Post delivers a payload to one
// connection and reports ok, ErrGone (the socket no longer exists), or a
// TransientError (recoverable delivery failure). The rest of the gateway
// addresses connections only by id and never touches a socket directly.
package transport
