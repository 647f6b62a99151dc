package cache

import (
	"context"
	"testing"
	"time"

	"github.com/seatwise/synckit/store"
)

// testManager builds a Manager over a memory store with a controllable clock.
func testManager(t *testing.T) (*Manager, *store.MemoryStore, *time.Time) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	current := time.Unix(1_700_000_000, 0)
	m := NewManager(st, WithClock(func() time.Time { return current }))
	return m, st, &current
}

func TestManager_SetGet_AllTiers(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	for _, tier := range AllTiers {
		t.Run(string(tier), func(t *testing.T) {
			if err := m.Set(ctx, "k:"+string(tier), map[string]string{"theme": "dark"}, tier, time.Minute); err != nil {
				t.Fatalf("Set: %v", err)
			}

			var got map[string]string
			if !m.GetJSON(ctx, "k:"+string(tier), tier, &got) {
				t.Fatal("GetJSON: miss, want hit")
			}
			if got["theme"] != "dark" {
				t.Errorf("got %v, want theme=dark", got)
			}
		})
	}
}

func TestManager_TTLExpiry(t *testing.T) {
	m, st, clock := testManager(t)
	ctx := context.Background()

	for _, tier := range AllTiers {
		if err := m.Set(ctx, "expiring", "v", tier, time.Minute); err != nil {
			t.Fatalf("Set %s: %v", tier, err)
		}
	}

	// Within TTL: all hits
	*clock = clock.Add(30 * time.Second)
	for _, tier := range AllTiers {
		if _, ok := m.Get(ctx, "expiring", tier); !ok {
			t.Errorf("%s: miss before TTL elapsed", tier)
		}
	}

	// After TTL: miss, and the entry is proactively deleted
	*clock = clock.Add(31 * time.Second)
	for _, tier := range AllTiers {
		if _, ok := m.Get(ctx, "expiring", tier); ok {
			t.Errorf("%s: hit after TTL elapsed", tier)
		}
	}

	if _, ok, _ := st.Get("cache:expiring"); ok {
		t.Error("expired persistent entry was not deleted from backing store")
	}
	m.mu.Lock()
	_, inMem := m.memory["expiring"]
	m.mu.Unlock()
	if inMem {
		t.Error("expired memory entry was not deleted")
	}
}

func TestManager_ZeroTTLNeverExpires(t *testing.T) {
	m, _, clock := testManager(t)
	ctx := context.Background()

	if err := m.Set(ctx, "pinned", "v", TierMemory, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	*clock = clock.Add(12 * time.Hour)
	if _, ok := m.Get(ctx, "pinned", TierMemory); !ok {
		t.Error("entry with no TTL expired")
	}
}

// TestManager_RemoveIdempotent verifies removing twice equals removing once.
func TestManager_RemoveIdempotent(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	for _, tier := range AllTiers {
		if err := m.Set(ctx, "k", "v", tier, time.Minute); err != nil {
			t.Fatalf("Set %s: %v", tier, err)
		}
	}

	// No tier argument removes from every tier.
	if err := m.Remove(ctx, "k"); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if err := m.Remove(ctx, "k"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}

	for _, tier := range AllTiers {
		if _, ok := m.Get(ctx, "k", tier); ok {
			t.Errorf("%s: hit after Remove", tier)
		}
	}
}

func TestManager_RemoveSingleTier(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	m.Set(ctx, "k", "v", TierMemory, time.Minute)
	m.Set(ctx, "k", "v", TierPersistent, time.Minute)

	if err := m.Remove(ctx, "k", TierMemory); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, ok := m.Get(ctx, "k", TierMemory); ok {
		t.Error("memory entry survived targeted Remove")
	}
	if _, ok := m.Get(ctx, "k", TierPersistent); !ok {
		t.Error("persistent entry removed by memory-only Remove")
	}
}

func TestManager_ClearPattern(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	seed := []string{"users:1", "users:2", "session:config"}
	for _, k := range seed {
		for _, tier := range []Tier{TierPersistent, TierMemory} {
			if err := m.Set(ctx, k, "v", tier, time.Minute); err != nil {
				t.Fatalf("Set %s/%s: %v", k, tier, err)
			}
		}
	}

	if err := m.Clear(ctx, "users:*", TierPersistent, TierMemory); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	for _, tier := range []Tier{TierPersistent, TierMemory} {
		if _, ok := m.Get(ctx, "users:1", tier); ok {
			t.Errorf("%s: users:1 survived Clear(users:*)", tier)
		}
		if _, ok := m.Get(ctx, "users:2", tier); ok {
			t.Errorf("%s: users:2 survived Clear(users:*)", tier)
		}
		if _, ok := m.Get(ctx, "session:config", tier); !ok {
			t.Errorf("%s: session:config removed by Clear(users:*)", tier)
		}
	}
}

func TestManager_ClearNoPatternWipesQueryTier(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	m.Set(ctx, "q1", "v", TierQuery, time.Minute)
	m.Set(ctx, "q2", "v", TierQuery, time.Minute)

	if err := m.Clear(ctx, "", TierQuery); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if _, ok := m.Get(ctx, "q1", TierQuery); ok {
		t.Error("q1 survived full query wipe")
	}
	if _, ok := m.Get(ctx, "q2", TierQuery); ok {
		t.Error("q2 survived full query wipe")
	}
}

func TestManager_CorruptEnvelopeIsMiss(t *testing.T) {
	m, st, _ := testManager(t)
	ctx := context.Background()

	if err := st.Set("cache:broken", []byte("{not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, ok := m.Get(ctx, "broken", TierPersistent); ok {
		t.Fatal("corrupt envelope returned a hit")
	}
	// The damaged row is dropped so it cannot keep failing.
	if _, ok, _ := st.Get("cache:broken"); ok {
		t.Error("corrupt envelope was not deleted")
	}
}

func TestManager_Register(t *testing.T) {
	m, _, _ := testManager(t)

	m.Register(Entry{Key: "venues:list", Tier: TierMemory})
	m.Register(Entry{Key: "ignored", Tier: TierPersistent})

	regs := m.Registered()
	if len(regs) != 1 {
		t.Fatalf("Registered() has %d entries, want 1", len(regs))
	}
	if regs[0].Key != "venues:list" {
		t.Errorf("registered key = %q, want venues:list", regs[0].Key)
	}
}

func TestManager_InvalidTier(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", Tier("bogus"), 0); err == nil {
		t.Error("Set with bogus tier succeeded")
	}
	if err := m.Remove(ctx, "k", Tier("bogus")); err == nil {
		t.Error("Remove with bogus tier succeeded")
	}
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		match   bool
		wantErr bool
	}{
		{"users:*", "users:42", true, false},
		{"users:*", "users:", true, false},
		{"users:*", "session:config", false, false},
		{"exact", "exact", true, false},
		{"exact", "exact:more", false, false},
		{"*", "anything", true, false},
		{"a*b", "a-middle-b", true, false},
		{"a*b*c", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.input, func(t *testing.T) {
			re, err := CompilePattern(tt.pattern)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error for multi-wildcard pattern")
				}
				return
			}
			if err != nil {
				t.Fatalf("CompilePattern: %v", err)
			}
			if got := re.MatchString(tt.input); got != tt.match {
				t.Errorf("match(%q) = %v, want %v", tt.input, got, tt.match)
			}
		})
	}
}

func TestPolicy_EffectiveTTL(t *testing.T) {
	p := Policy{DefaultTTL: 5 * time.Minute, MaxTTL: time.Hour}

	if got := p.EffectiveTTL(0); got != 5*time.Minute {
		t.Errorf("EffectiveTTL(0) = %v, want default 5m", got)
	}
	if got := p.EffectiveTTL(2 * time.Hour); got != time.Hour {
		t.Errorf("EffectiveTTL(2h) = %v, want clamped 1h", got)
	}
	if got := p.EffectiveTTL(time.Minute); got != time.Minute {
		t.Errorf("EffectiveTTL(1m) = %v, want 1m", got)
	}
}
