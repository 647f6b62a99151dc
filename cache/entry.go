package cache

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"
)

// Tier identifies which backing store holds an entry.
type Tier string

const (
	// TierPersistent entries survive restarts in durable storage.
	TierPersistent Tier = "persistent"
	// TierMemory entries live in the process only.
	TierMemory Tier = "memory"
	// TierQuery entries cache derived query results in the process.
	TierQuery Tier = "query"
)

// AllTiers lists every tier, in the order bulk operations visit them.
var AllTiers = []Tier{TierPersistent, TierMemory, TierQuery}

// Valid reports whether t names a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierPersistent, TierMemory, TierQuery:
		return true
	}
	return false
}

// Sentinel errors for cache operations.
var (
	ErrNilManager     = errors.New("cache: manager is nil")
	ErrInvalidTier    = errors.New("cache: unknown tier")
	ErrInvalidPattern = errors.New("cache: pattern may contain at most one *")
)

// Entry is the stored envelope for a cached value.
//
// The JSON shape is the wire/storage format: persistent entries are stored
// under "cache:<key>" as this envelope, and Timestamp/TTL are epoch
// milliseconds to match what the backend's invalidation metadata uses.
type Entry struct {
	Key       string          `json:"key"`
	Tier      Tier            `json:"type"`
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`     // epoch ms
	TTL       int64           `json:"ttl,omitempty"` // ms; 0 means no expiry
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (e Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	age := now.UnixMilli() - e.Timestamp
	return age > e.TTL
}

// CompilePattern compiles a clear/invalidation pattern to a regular
// expression. A pattern contains at most a single * wildcard, which matches
// any run of characters; everything else is literal.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if strings.Count(pattern, "*") > 1 {
		return nil, ErrInvalidPattern
	}
	parts := strings.SplitN(pattern, "*", 2)
	expr := "^" + regexp.QuoteMeta(parts[0])
	if len(parts) == 2 {
		expr += ".*" + regexp.QuoteMeta(parts[1])
	}
	expr += "$"
	return regexp.Compile(expr)
}
