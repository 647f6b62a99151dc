package cache

import (
	"context"
	"testing"
	"time"
)

func TestHandleInvalidation_ExactKey(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	m.Set(ctx, "users:42", "v", TierPersistent, time.Minute)
	m.Set(ctx, "users:42", "v", TierMemory, time.Minute)

	var fired []string
	unsub, err := m.OnInvalidate("users:42", func(msg Invalidation) {
		fired = append(fired, msg.CacheKey)
	})
	if err != nil {
		t.Fatalf("OnInvalidate: %v", err)
	}
	defer unsub()

	// A handler under a different literal string must not fire for this key.
	otherUnsub, err := m.OnInvalidate("users:43", func(msg Invalidation) {
		t.Error("handler for users:43 fired for users:42")
	})
	if err != nil {
		t.Fatalf("OnInvalidate: %v", err)
	}
	defer otherUnsub()

	m.HandleInvalidation(ctx, Invalidation{Type: "invalidate", CacheKey: "users:42"})

	for _, tier := range AllTiers {
		if _, ok := m.Get(ctx, "users:42", tier); ok {
			t.Errorf("%s: entry survived key invalidation", tier)
		}
	}
	if len(fired) != 1 || fired[0] != "users:42" {
		t.Errorf("handler calls = %v, want [users:42]", fired)
	}
}

func TestHandleInvalidation_Pattern(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	m.Set(ctx, "users:1", "v", TierPersistent, time.Minute)
	m.Set(ctx, "users:2", "v", TierMemory, time.Minute)
	m.Set(ctx, "session:config", "v", TierPersistent, time.Minute)

	var fired int
	unsub, err := m.OnInvalidate("users:*", func(msg Invalidation) { fired++ })
	if err != nil {
		t.Fatalf("OnInvalidate: %v", err)
	}
	defer unsub()

	m.HandleInvalidation(ctx, Invalidation{Type: "invalidate", CachePattern: "users:42"})

	if fired != 1 {
		t.Errorf("handler fired %d times, want 1 (registration pattern matches incoming text)", fired)
	}
	if _, ok := m.Get(ctx, "session:config", TierPersistent); !ok {
		t.Error("unrelated entry removed by pattern invalidation")
	}
}

func TestHandleInvalidation_TierRestriction(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	m.Set(ctx, "shows:list", "v", TierPersistent, time.Minute)
	m.Set(ctx, "shows:list", "v", TierMemory, time.Minute)

	m.HandleInvalidation(ctx, Invalidation{
		Type:      "invalidate",
		CacheKey:  "shows:list",
		CacheTier: TierMemory,
	})

	if _, ok := m.Get(ctx, "shows:list", TierMemory); ok {
		t.Error("memory entry survived tier-restricted invalidation")
	}
	if _, ok := m.Get(ctx, "shows:list", TierPersistent); !ok {
		t.Error("persistent entry removed despite memory-only restriction")
	}
}

func TestHandleInvalidation_GlobalScope(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	for _, tier := range AllTiers {
		m.Set(ctx, "k", "v", tier, time.Minute)
	}

	m.HandleInvalidation(ctx, Invalidation{Type: "invalidate", Scope: ScopeGlobal})

	for _, tier := range AllTiers {
		if _, ok := m.Get(ctx, "k", tier); ok {
			t.Errorf("%s: entry survived global invalidation", tier)
		}
	}
}

func TestHandleInvalidation_NoKeyNoPatternNonGlobal(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	m.Set(ctx, "k", "v", TierMemory, time.Minute)

	// Without key, pattern, or global scope the message is a no-op.
	m.HandleInvalidation(ctx, Invalidation{Type: "invalidate", Scope: "tenant"})

	if _, ok := m.Get(ctx, "k", TierMemory); !ok {
		t.Error("entry removed by scope-less, key-less invalidation")
	}
}

func TestOnInvalidate_Unsubscribe(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	fired := 0
	unsub, err := m.OnInvalidate("k", func(msg Invalidation) { fired++ })
	if err != nil {
		t.Fatalf("OnInvalidate: %v", err)
	}

	m.HandleInvalidation(ctx, Invalidation{CacheKey: "k"})
	unsub()
	m.HandleInvalidation(ctx, Invalidation{CacheKey: "k"})

	if fired != 1 {
		t.Errorf("handler fired %d times, want 1 after unsubscribe", fired)
	}
}

func TestOnInvalidate_RejectsBadPattern(t *testing.T) {
	m, _, _ := testManager(t)

	if _, err := m.OnInvalidate("a*b*c", func(Invalidation) {}); err == nil {
		t.Error("OnInvalidate accepted a multi-wildcard pattern")
	}
}
