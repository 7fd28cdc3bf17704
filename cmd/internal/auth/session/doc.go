// Package session implements the session authority of the tunnel server.
//
// It decides whether a client may open (or keep) a tunnel session against an
// access token and enforces the token's limits: expiration, traffic quota and
// device count. A client's newest session always suppresses its own older
// ones; when a token is over its device cap the oldest sessions of other
// clients are suppressed first.
//
// The decision routine for a token runs inside a per-token critical section,
// so two concurrent decisions for one token never act on the same snapshot.
// Sessions suppressed by a decision are queued for ResetUpdatedSessions; the
// transport layer drains that queue and tears the tunnels down.
//
// Transport (tunnel/socket) integration is out of scope here.
package session
