package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seatwise/synckit/api"
	"github.com/seatwise/synckit/cache"
	"github.com/seatwise/synckit/observe"
)

// SessionConfigKey is the cache key for the server-driven idle policy.
const SessionConfigKey = "session:config"

// sessionConfigTTL bounds how long a fetched policy is trusted.
const sessionConfigTTL = time.Hour

// configCache resolves the server idle policy through the tiered cache.
// Misses fetch from the backend once (concurrent callers share the flight);
// a 401 or 404 means the backend has no policy endpoint and defaults apply,
// any other failure silently reuses the last known policy.
type configCache struct {
	cache    *cache.Manager
	backend  Backend
	logger   observe.Logger
	defaults api.SessionConfig
	group    singleflight.Group

	mu   sync.Mutex
	last *api.SessionConfig
}

func (c *configCache) get(ctx context.Context) api.SessionConfig {
	var cfg api.SessionConfig
	if c.cache.GetJSON(ctx, SessionConfigKey, cache.TierMemory, &cfg) {
		c.remember(cfg)
		return cfg
	}
	if c.cache.GetJSON(ctx, SessionConfigKey, cache.TierPersistent, &cfg) {
		_ = c.cache.Set(ctx, SessionConfigKey, cfg, cache.TierMemory, sessionConfigTTL)
		c.remember(cfg)
		return cfg
	}

	v, _, _ := c.group.Do("fetch", func() (any, error) {
		got, err := c.backend.GetSessionConfig(ctx)
		if err == nil {
			_ = c.cache.Set(ctx, SessionConfigKey, *got, cache.TierMemory, sessionConfigTTL)
			_ = c.cache.Set(ctx, SessionConfigKey, *got, cache.TierPersistent, sessionConfigTTL)
			c.remember(*got)
			return *got, nil
		}

		var httpErr *api.HTTPError
		if errors.As(err, &httpErr) &&
			(httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusNotFound) {
			// No policy endpoint for this account; pin the defaults for a while.
			_ = c.cache.Set(ctx, SessionConfigKey, c.defaults, cache.TierMemory, sessionConfigTTL)
			return c.defaults, nil
		}

		c.logger.Warn(ctx, "session config fetch failed, reusing last known policy",
			observe.Field{Key: "error", Value: err.Error()})
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.last != nil {
			return *c.last, nil
		}
		return c.defaults, nil
	})
	return v.(api.SessionConfig)
}

func (c *configCache) remember(cfg api.SessionConfig) {
	c.mu.Lock()
	c.last = &cfg
	c.mu.Unlock()
}

// idleTimeout converts the policy to a duration, falling back to the default
// for absent or nonsense values.
func (c *configCache) idleTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	cfg := c.get(ctx)
	if cfg.IdleTimeoutMinutes <= 0 {
		return fallback
	}
	return time.Duration(cfg.IdleTimeoutMinutes) * time.Minute
}
