// Package broadcast receives server-pushed cache invalidation messages.
//
// The transport is optional infrastructure: a Listener dials a WebSocket
// first and falls back to Server-Sent Events if the socket errors before its
// first open. Connection failures never propagate to callers; availability
// is an explicit State observable through logs and metrics instead of a
// swallowed exception. A first-attempt failure on both transports means the
// endpoint does not exist and is not retried; reconnection with backoff only
// happens after a connection had previously succeeded.
package broadcast
