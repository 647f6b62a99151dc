package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/seatwise/synckit/observe"
	"github.com/seatwise/synckit/store"
)

// storeKeyPrefix namespaces cache entries inside the shared key/value store,
// keeping them apart from token storage.
const storeKeyPrefix = "cache:"

// Manager is the tiered cache.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: Get never errors; persistent-tier read/write failures and corrupt
//   envelopes downgrade to miss/no-op and are logged, preserving availability
//   at the cost of silent loss.
type Manager struct {
	mu         sync.Mutex
	persistent store.Store
	memory     map[string]Entry
	query      map[string]Entry
	registered map[string]Entry

	handlers  []handlerReg
	nextID    int
	handlerMu sync.Mutex

	policy  Policy
	now     func() time.Time
	logger  observe.Logger
	metrics observe.Metrics
}

type handlerReg struct {
	id      int
	pattern string
	fn      func(Invalidation)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Default: discard.
func WithLogger(l observe.Logger) Option {
	return func(m *Manager) { m.logger = l.WithComponent("cache") }
}

// WithMetrics sets the metrics sink. Default: discard.
func WithMetrics(mx observe.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPolicy sets the TTL policy. Default: DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// NewManager creates a Manager over the given persistent store.
func NewManager(persistent store.Store, opts ...Option) *Manager {
	m := &Manager{
		persistent: persistent,
		memory:     make(map[string]Entry),
		query:      make(map[string]Entry),
		registered: make(map[string]Entry),
		policy:     DefaultPolicy(),
		now:        time.Now,
		logger:     observe.NopLogger(),
		metrics:    observe.NopMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get retrieves the raw JSON value for a key in the given tier.
// Returns (nil, false) on miss or expiry; expired entries are deleted as a
// side effect.
func (m *Manager) Get(ctx context.Context, key string, tier Tier) (json.RawMessage, bool) {
	value, ok := m.get(ctx, key, tier)
	m.metrics.RecordCacheLookup(ctx, string(tier), ok)
	return value, ok
}

func (m *Manager) get(ctx context.Context, key string, tier Tier) (json.RawMessage, bool) {
	switch tier {
	case TierMemory, TierQuery:
		m.mu.Lock()
		defer m.mu.Unlock()
		tierMap := m.tierMapLocked(tier)
		entry, ok := tierMap[key]
		if !ok {
			return nil, false
		}
		if entry.Expired(m.now()) {
			delete(tierMap, key)
			return nil, false
		}
		return entry.Value, true

	case TierPersistent:
		raw, ok, err := m.persistent.Get(storeKeyPrefix + key)
		if err != nil || !ok {
			if err != nil {
				m.logger.Warn(ctx, "persistent read failed, treating as miss",
					observe.Field{Key: "key", Value: key},
					observe.Field{Key: "error", Value: err.Error()})
			}
			return nil, false
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			// Corrupt envelope: drop it and report a miss.
			m.logger.Warn(ctx, "corrupt cache envelope discarded",
				observe.Field{Key: "key", Value: key})
			_ = m.persistent.Delete(storeKeyPrefix + key)
			return nil, false
		}
		if entry.Expired(m.now()) {
			_ = m.persistent.Delete(storeKeyPrefix + key)
			return nil, false
		}
		return entry.Value, true

	default:
		return nil, false
	}
}

// GetJSON retrieves and unmarshals a value into dest. Returns false on miss,
// expiry, or decode failure.
func (m *Manager) GetJSON(ctx context.Context, key string, tier Tier, dest any) bool {
	raw, ok := m.Get(ctx, key, tier)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		m.logger.Warn(ctx, "cached value does not match requested shape",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err.Error()})
		return false
	}
	return true
}

// Set stores a value unconditionally, stamping the current time.
// A zero ttl applies the policy default; the policy may clamp long TTLs.
func (m *Manager) Set(ctx context.Context, key string, value any, tier Tier, ttl time.Duration) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: failed to encode value for %q: %w", key, err)
	}

	entry := Entry{
		Key:       key,
		Tier:      tier,
		Value:     raw,
		Timestamp: m.now().UnixMilli(),
		TTL:       m.policy.EffectiveTTL(ttl).Milliseconds(),
	}

	switch tier {
	case TierMemory, TierQuery:
		m.mu.Lock()
		m.tierMapLocked(tier)[key] = entry
		m.mu.Unlock()
		return nil

	case TierPersistent:
		envelope, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("cache: failed to encode envelope for %q: %w", key, err)
		}
		if err := m.persistent.Set(storeKeyPrefix+key, envelope); err != nil {
			// Storage failure downgrades to no-op so callers stay available.
			m.logger.Warn(ctx, "persistent write failed, entry dropped",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: err.Error()})
		}
		return nil
	}
	return nil
}

// Remove deletes a key from the given tiers. With no tiers, the key is
// removed from all three. Idempotent.
func (m *Manager) Remove(ctx context.Context, key string, tiers ...Tier) error {
	if len(tiers) == 0 {
		tiers = AllTiers
	}
	for _, tier := range tiers {
		switch tier {
		case TierMemory, TierQuery:
			m.mu.Lock()
			delete(m.tierMapLocked(tier), key)
			m.mu.Unlock()
		case TierPersistent:
			if err := m.persistent.Delete(storeKeyPrefix + key); err != nil {
				m.logger.Warn(ctx, "persistent delete failed",
					observe.Field{Key: "key", Value: key},
					observe.Field{Key: "error", Value: err.Error()})
			}
		default:
			return fmt.Errorf("%w: %q", ErrInvalidTier, tier)
		}
	}
	return nil
}

// Clear removes entries matching pattern from the given tiers. An empty
// pattern clears every entry in the targeted tiers; clearing the query tier
// without a pattern wipes it wholesale. With no tiers, all three are cleared.
func (m *Manager) Clear(ctx context.Context, pattern string, tiers ...Tier) error {
	if len(tiers) == 0 {
		tiers = AllTiers
	}

	var matcher func(string) bool
	if pattern != "" {
		re, err := CompilePattern(pattern)
		if err != nil {
			return err
		}
		matcher = re.MatchString
	}

	for _, tier := range tiers {
		switch tier {
		case TierMemory, TierQuery:
			m.mu.Lock()
			tierMap := m.tierMapLocked(tier)
			if matcher == nil {
				for k := range tierMap {
					delete(tierMap, k)
				}
			} else {
				for k := range tierMap {
					if matcher(k) {
						delete(tierMap, k)
					}
				}
			}
			m.mu.Unlock()

		case TierPersistent:
			if matcher == nil {
				if err := m.persistent.Clear(storeKeyPrefix); err != nil {
					m.logger.Warn(ctx, "persistent clear failed",
						observe.Field{Key: "error", Value: err.Error()})
				}
				continue
			}
			keys, err := m.persistent.Keys(storeKeyPrefix)
			if err != nil {
				m.logger.Warn(ctx, "persistent key listing failed",
					observe.Field{Key: "error", Value: err.Error()})
				continue
			}
			for _, storeKey := range keys {
				key := storeKey[len(storeKeyPrefix):]
				if matcher(key) {
					_ = m.persistent.Delete(storeKey)
				}
			}

		default:
			return fmt.Errorf("%w: %q", ErrInvalidTier, tier)
		}
	}
	return nil
}

// Register records a declarative entry hint. Persistent and query tiers need
// no bookkeeping; memory-tier registrations are retained so callers can
// enumerate what the process expects to hold.
func (m *Manager) Register(entry Entry) {
	if entry.Tier != TierMemory {
		return
	}
	m.mu.Lock()
	m.registered[entry.Key] = entry
	m.mu.Unlock()
}

// Registered returns the registered memory-tier entry hints.
func (m *Manager) Registered() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.registered))
	for _, e := range m.registered {
		out = append(out, e)
	}
	return out
}

// tierMapLocked returns the map for an in-process tier. Caller holds m.mu.
func (m *Manager) tierMapLocked(tier Tier) map[string]Entry {
	if tier == TierQuery {
		return m.query
	}
	return m.memory
}
