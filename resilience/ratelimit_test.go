package resilience

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowWithinBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() #%d = false, want true (within burst)", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Allow() after burst exhausted = true, want false")
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	rl := NewIntervalLimiter(time.Minute)

	current := time.Unix(1_700_000_000, 0)
	rl.SetClock(func() time.Time { return current })

	if !rl.Allow() {
		t.Fatal("first Allow() = false, want true")
	}
	if rl.Allow() {
		t.Fatal("second immediate Allow() = true, want false")
	}

	// 30 seconds in: still limited
	current = current.Add(30 * time.Second)
	if rl.Allow() {
		t.Error("Allow() after 30s of a 1/min limit = true, want false")
	}

	// Past the full minute: one more token available
	current = current.Add(31 * time.Second)
	if !rl.Allow() {
		t.Error("Allow() after 61s = false, want true")
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 1})

	if !rl.Allow() {
		t.Fatal("first Allow() = false")
	}
	if rl.Allow() {
		t.Fatal("second Allow() = true, want false")
	}

	rl.Reset()
	if !rl.Allow() {
		t.Error("Allow() after Reset() = false, want true")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})
	if rl.config.Rate != 1 || rl.config.Burst != 1 {
		t.Errorf("defaults = rate %v burst %d, want 1/1", rl.config.Rate, rl.config.Burst)
	}
}
