package store

import (
	"errors"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a storage key.
const MaxKeyLength = 512

// Sentinel errors for storage operations.
var (
	ErrNilStore   = errors.New("store: store is nil")
	ErrInvalidKey = errors.New("store: key is invalid")
	ErrKeyTooLong = errors.New("store: key exceeds max length")
	ErrClosed     = errors.New("store: store is closed")
)

// Store is the interface for durable key/value storage.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Get returns (nil, false, nil) on miss; a corrupt entry is a miss,
//   not an error. Delete is idempotent.
// - Ownership: returned byte slices must not be mutated by the implementation
//   after return.
type Store interface {
	// Get retrieves a value. Returns (nil, false, nil) on miss.
	Get(key string) ([]byte, bool, error)

	// Set stores a value, overwriting any previous value.
	Set(key string, value []byte) error

	// Delete removes a value. Idempotent - no error on miss.
	Delete(key string) error

	// Keys returns all keys with the given prefix. An empty prefix
	// returns every key.
	Keys(prefix string) ([]string, error)

	// Clear removes all keys with the given prefix. An empty prefix
	// removes every key.
	Clear(prefix string) error

	// Close releases underlying resources. Subsequent calls return ErrClosed.
	Close() error
}

// ValidateKey checks if a key is valid for storage.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
