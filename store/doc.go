// Package store provides durable key/value storage for the sync toolkit.
//
// It provides a Store interface with SQLite and in-memory implementations,
// plus the JSON envelope format used for cache entries.
package store
