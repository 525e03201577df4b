package router

import (
	"net/http"
	"time"
)

// Phase is the lifecycle category of an inbound event.
type Phase string

const (
	PhaseConnect    Phase = "connect"
	PhaseDisconnect Phase = "disconnect"
	PhaseMessage    Phase = "message"
	PhaseDefault    Phase = "default"
)

// Event is one inbound transport invocation.
type Event struct {
	ConnectionID string
	Phase        Phase
	Headers      http.Header // Request metadata; only meaningful at connect
	Body         []byte      // Raw envelope bytes; only meaningful at message
	ReceivedAt   time.Time
}

// Result is the transport-level outcome of handling an event. Only the
// connect phase ever returns a non-2xx status: the gateway interprets
// non-2xx from other phases as a platform error and may drop the socket.
type Result struct {
	Status   int
	Identity string // Token subject on an accepted connect, else empty
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	Received     int64
	Accepted     int64
	Rejected     int64
	Broadcasts   int64
	Unrecognized int64
}
