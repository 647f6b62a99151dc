package cache

import (
	"context"
	"encoding/json"
	"time"
)

// FetchFunc produces a query result on cache miss.
type FetchFunc func(ctx context.Context) (any, error)

// GetOrFetch returns the cached result for (scope, params) from the query
// tier, or runs fetch, caches its result with the given TTL, and returns it.
// Errors from fetch are never cached.
//
// If key derivation fails the fetch still runs, just uncached.
func (m *Manager) GetOrFetch(ctx context.Context, scope string, params any, ttl time.Duration, fetch FetchFunc) (json.RawMessage, error) {
	key, err := QueryKey(scope, params)
	if err != nil {
		result, ferr := fetch(ctx)
		if ferr != nil {
			return nil, ferr
		}
		return json.Marshal(result)
	}

	if cached, ok := m.Get(ctx, key, TierQuery); ok {
		return cached, nil
	}

	result, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.Set(ctx, key, result, TierQuery, ttl); err != nil {
		return json.Marshal(result)
	}
	raw, _ := m.Get(ctx, key, TierQuery)
	if raw != nil {
		return raw, nil
	}
	return json.Marshal(result)
}
