// Package cache provides the tiered TTL cache at the center of the sync toolkit.
//
// A Manager spans three tiers: a persistent tier backed by durable key/value
// storage, an in-process memory tier, and a query-result tier keyed by
// SHA-256 derived keys. Entries carry a per-entry TTL and expire lazily on
// read. Server-pushed invalidation messages are dispatched through
// HandleInvalidation, clearing matching entries and notifying registered
// handlers.
package cache
