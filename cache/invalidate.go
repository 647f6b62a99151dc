package cache

import (
	"context"
	"encoding/json"

	"github.com/seatwise/synckit/observe"
)

// Invalidation is a server-originated signal to discard cached data.
//
// Wire format (JSON over the push transport):
//
//	{"type":"invalidate","cacheKey":"users:42","cacheType":"persistent"}
//	{"type":"invalidate","cachePattern":"users:*"}
//	{"type":"invalidate","scope":"global"}
type Invalidation struct {
	Type         string          `json:"type"`
	CacheKey     string          `json:"cacheKey,omitempty"`
	CachePattern string          `json:"cachePattern,omitempty"`
	CacheTier    Tier            `json:"cacheType,omitempty"`
	Scope        string          `json:"scope,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// ScopeGlobal marks an invalidation that wipes every tier.
const ScopeGlobal = "global"

// OnInvalidate registers a handler under the given pattern string and returns
// an unsubscribe function. The pattern must contain at most one * wildcard.
//
// Handler dispatch is literal: a key-bearing invalidation invokes handlers
// whose registration string equals that key exactly, and a pattern-bearing
// invalidation tests each registration pattern against the incoming pattern
// text. Registrations are not expanded against stored keys.
func (m *Manager) OnInvalidate(pattern string, fn func(Invalidation)) (func(), error) {
	if _, err := CompilePattern(pattern); err != nil {
		return nil, err
	}

	m.handlerMu.Lock()
	m.nextID++
	id := m.nextID
	m.handlers = append(m.handlers, handlerReg{id: id, pattern: pattern, fn: fn})
	m.handlerMu.Unlock()

	return func() {
		m.handlerMu.Lock()
		defer m.handlerMu.Unlock()
		for i, h := range m.handlers {
			if h.id == id {
				m.handlers = append(m.handlers[:i], m.handlers[i+1:]...)
				return
			}
		}
	}, nil
}

// HandleInvalidation applies a server-pushed invalidation message.
//
// Dispatch order: an exact key wins over a pattern; a message carrying
// neither is honored only when its scope is global, in which case every tier
// is wiped.
func (m *Manager) HandleInvalidation(ctx context.Context, msg Invalidation) {
	tiers := AllTiers
	if msg.CacheTier != "" && msg.CacheTier.Valid() {
		tiers = []Tier{msg.CacheTier}
	}

	switch {
	case msg.CacheKey != "":
		m.logger.Debug(ctx, "invalidating key",
			observe.Field{Key: "key", Value: msg.CacheKey})
		_ = m.Remove(ctx, msg.CacheKey, tiers...)
		m.notifyKey(msg)

	case msg.CachePattern != "":
		m.logger.Debug(ctx, "invalidating pattern",
			observe.Field{Key: "pattern", Value: msg.CachePattern})
		if err := m.Clear(ctx, msg.CachePattern, tiers...); err != nil {
			m.logger.Warn(ctx, "invalidation pattern rejected",
				observe.Field{Key: "pattern", Value: msg.CachePattern},
				observe.Field{Key: "error", Value: err.Error()})
			return
		}
		m.notifyPattern(msg)

	case msg.Scope == ScopeGlobal:
		m.logger.Info(ctx, "global invalidation, wiping all tiers")
		_ = m.Clear(ctx, "", AllTiers...)
	}
}

// notifyKey invokes handlers registered under exactly msg.CacheKey.
func (m *Manager) notifyKey(msg Invalidation) {
	for _, h := range m.snapshotHandlers() {
		if h.pattern == msg.CacheKey {
			h.fn(msg)
		}
	}
}

// notifyPattern invokes handlers whose registration pattern matches the
// incoming pattern text.
func (m *Manager) notifyPattern(msg Invalidation) {
	for _, h := range m.snapshotHandlers() {
		re, err := CompilePattern(h.pattern)
		if err != nil {
			continue
		}
		if re.MatchString(msg.CachePattern) {
			h.fn(msg)
		}
	}
}

// snapshotHandlers copies the handler list so callbacks run without the lock.
func (m *Manager) snapshotHandlers() []handlerReg {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	out := make([]handlerReg, len(m.handlers))
	copy(out, m.handlers)
	return out
}
