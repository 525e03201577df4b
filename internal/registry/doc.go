// Package registry implements the Connection Registry component.
//
// The registry is the sole durable state of the gateway: a table mapping
// connection id to connection metadata. It is a best-effort, eventually
// consistent view of liveness, not a source of truth: the transport may
// tear a socket down without a disconnect notification. Readers of List
// must tolerate stale entries; broadcast GONE failures are the single
// correctness-restoring mechanism.
//
// Three backends are provided: in-memory (dev/test), Redis, and PostgreSQL.
// Operations are independent per connection id; no cross-entry transactions.
package registry
