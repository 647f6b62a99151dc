package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/seatwise/synckit/api"
	"github.com/seatwise/synckit/cache"
	"github.com/seatwise/synckit/observe"
	"github.com/seatwise/synckit/store"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeBackend struct {
	mu             sync.Mutex
	refreshPair    *api.TokenPair
	refreshErr     error
	refreshCalls   int
	keepaliveCalls int
	config         *api.SessionConfig
	configErr      error
	configCalls    int
}

func (f *fakeBackend) Refresh(ctx context.Context, refreshToken string) (*api.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshPair, nil
}

func (f *fakeBackend) Keepalive(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepaliveCalls++
	return nil
}

func (f *fakeBackend) GetSessionConfig(ctx context.Context) (*api.SessionConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configCalls++
	if f.configErr != nil {
		return nil, f.configErr
	}
	if f.config == nil {
		return &api.SessionConfig{IdleTimeoutMinutes: 30, DeviceType: "desktop"}, nil
	}
	return f.config, nil
}

func (f *fakeBackend) calls() (refresh, keepalive, config int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls, f.keepaliveCalls, f.configCalls
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func testStore(t *testing.T) store.Store {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	return st
}

func testCacheManager(t *testing.T) *cache.Manager {
	t.Helper()
	return cache.NewManager(testStore(t))
}

type monitorFixture struct {
	monitor *Monitor
	tokens  *TokenStore
	backend *fakeBackend
	clock   *testClock

	expired   int
	warnings  int
	refreshed int
	lastWarn  time.Duration
}

func newFixture(t *testing.T) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		tokens:  NewTokenStore(testStore(t)),
		backend: &fakeBackend{},
		clock:   newTestClock(),
	}
	f.monitor = NewMonitor(MonitorConfig{
		Tokens:  f.tokens,
		Backend: f.backend,
		Cache:   testCacheManager(t),
		Callbacks: Callbacks{
			OnExpired:   func() { f.expired++ },
			OnWarning: func(remaining time.Duration) {
				f.warnings++
				f.lastWarn = remaining
			},
			OnRefreshed: func() { f.refreshed++ },
		},
	})
	f.monitor.SetClock(f.clock.Now)
	return f
}

func TestTokenStore_RoundTrip(t *testing.T) {
	s := NewTokenStore(testStore(t))

	if got := s.AccessToken(); got != "" {
		t.Errorf("AccessToken on empty store = %q", got)
	}

	pair := &api.TokenPair{AccessToken: "acc-1", RefreshToken: "ref-1"}
	if err := s.SetPair(pair); err != nil {
		t.Fatalf("SetPair: %v", err)
	}
	s.SetLastUsername("ops@venue")
	s.SetMustChangePassword(true)

	if s.AccessToken() != "acc-1" || s.RefreshToken() != "ref-1" {
		t.Errorf("tokens = (%q, %q)", s.AccessToken(), s.RefreshToken())
	}
	if !s.MustChangePassword() {
		t.Error("MustChangePassword = false")
	}

	// Rotation without a new refresh token keeps the old one.
	if err := s.SetPair(&api.TokenPair{AccessToken: "acc-2"}); err != nil {
		t.Fatalf("SetPair: %v", err)
	}
	if s.AccessToken() != "acc-2" || s.RefreshToken() != "ref-1" {
		t.Errorf("after rotation = (%q, %q)", s.AccessToken(), s.RefreshToken())
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.AccessToken() != "" || s.RefreshToken() != "" || s.MustChangePassword() {
		t.Error("credential state survived Clear")
	}
	if s.LastUsername() != "ops@venue" {
		t.Error("last username did not survive Clear")
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Unix(1_800_000_000, 0)
	got, ok := tokenExpiry(signedToken(t, exp))
	if !ok || got != exp.Unix() {
		t.Errorf("tokenExpiry = (%d, %v), want (%d, true)", got, ok, exp.Unix())
	}

	if _, ok := tokenExpiry("opaque-session-id"); ok {
		t.Error("tokenExpiry accepted a non-JWT token")
	}
}

func TestMonitor_NoTokenIsQuiet(t *testing.T) {
	f := newFixture(t)
	f.monitor.CheckNow(context.Background())
	if f.expired != 0 || f.warnings != 0 {
		t.Errorf("callbacks fired with no token: expired=%d warnings=%d", f.expired, f.warnings)
	}
}

func TestMonitor_ExpiredTokenRefreshes(t *testing.T) {
	f := newFixture(t)
	f.tokens.SetPair(&api.TokenPair{
		AccessToken:  signedToken(t, f.clock.Now().Add(-time.Minute)),
		RefreshToken: "ref-1",
	})
	f.backend.refreshPair = &api.TokenPair{
		AccessToken:  signedToken(t, f.clock.Now().Add(time.Hour)),
		RefreshToken: "ref-2",
	}

	f.monitor.CheckNow(context.Background())

	if f.expired != 0 {
		t.Errorf("OnExpired fired %d times despite successful refresh", f.expired)
	}
	if f.refreshed != 1 {
		t.Errorf("OnRefreshed fired %d times, want 1", f.refreshed)
	}
	if f.tokens.RefreshToken() != "ref-2" {
		t.Errorf("refresh token = %q, want ref-2", f.tokens.RefreshToken())
	}
}

func TestMonitor_ExpiredFiresOnceWhenRefreshFails(t *testing.T) {
	f := newFixture(t)
	f.tokens.SetPair(&api.TokenPair{
		AccessToken:  signedToken(t, f.clock.Now().Add(-time.Minute)),
		RefreshToken: "ref-1",
	})
	f.backend.refreshErr = errors.New("refresh token revoked")

	ctx := context.Background()
	f.monitor.CheckNow(ctx)
	f.monitor.CheckNow(ctx)

	if f.expired != 1 {
		t.Errorf("OnExpired fired %d times, want 1", f.expired)
	}
}

func TestMonitor_ExpiredWithoutRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.tokens.SetPair(&api.TokenPair{
		AccessToken: signedToken(t, f.clock.Now().Add(-time.Minute)),
	})

	f.monitor.CheckNow(context.Background())

	if f.expired != 1 {
		t.Errorf("OnExpired fired %d times, want 1", f.expired)
	}
	refresh, _, _ := f.backend.calls()
	if refresh != 0 {
		t.Errorf("refresh attempted %d times without a refresh token", refresh)
	}
}

func TestMonitor_ProactiveRefreshWhenActive(t *testing.T) {
	f := newFixture(t)
	f.tokens.SetPair(&api.TokenPair{
		AccessToken:  signedToken(t, f.clock.Now().Add(2*time.Minute)),
		RefreshToken: "ref-1",
	})
	f.backend.refreshPair = &api.TokenPair{
		AccessToken: signedToken(t, f.clock.Now().Add(time.Hour)),
	}

	// SetClock marked the user active just now.
	f.monitor.CheckNow(context.Background())

	if f.refreshed != 1 {
		t.Errorf("OnRefreshed fired %d times, want 1 (proactive)", f.refreshed)
	}
	if f.warnings != 0 {
		t.Errorf("OnWarning fired %d times for an active user", f.warnings)
	}
}

func TestMonitor_WarningWhenIdleRateLimited(t *testing.T) {
	f := newFixture(t)

	// User walks away for 31 minutes, past the 30m idle default.
	f.clock.Advance(31 * time.Minute)
	f.tokens.SetPair(&api.TokenPair{
		AccessToken:  signedToken(t, f.clock.Now().Add(2*time.Minute)),
		RefreshToken: "ref-1",
	})

	ctx := context.Background()
	f.monitor.CheckNow(ctx)
	f.monitor.CheckNow(ctx) // within the same minute: rate-limited

	if f.warnings != 1 {
		t.Errorf("OnWarning fired %d times, want 1", f.warnings)
	}
	if f.lastWarn < 119*time.Second || f.lastWarn > 2*time.Minute {
		t.Errorf("OnWarning remaining = %v, want ~2m", f.lastWarn)
	}
	refresh, _, _ := f.backend.calls()
	if refresh != 0 {
		t.Errorf("idle user got a proactive refresh (%d calls)", refresh)
	}

	f.clock.Advance(90 * time.Second)
	f.monitor.CheckNow(ctx)
	if f.warnings != 2 {
		t.Errorf("OnWarning fired %d times after limit window, want 2", f.warnings)
	}
	if f.lastWarn < 29*time.Second || f.lastWarn > 30*time.Second {
		t.Errorf("OnWarning remaining = %v, want ~30s", f.lastWarn)
	}
}

func TestMonitor_FreshTokenIsQuiet(t *testing.T) {
	f := newFixture(t)
	f.tokens.SetPair(&api.TokenPair{
		AccessToken:  signedToken(t, f.clock.Now().Add(time.Hour)),
		RefreshToken: "ref-1",
	})

	f.monitor.CheckNow(context.Background())

	refresh, _, _ := f.backend.calls()
	if f.expired != 0 || f.warnings != 0 || refresh != 0 {
		t.Errorf("fresh token triggered activity: expired=%d warnings=%d refresh=%d",
			f.expired, f.warnings, refresh)
	}
}

func TestMonitor_KeepaliveGating(t *testing.T) {
	f := newFixture(t)
	f.tokens.SetPair(&api.TokenPair{AccessToken: "acc-1"})
	ctx := context.Background()

	// Visible and just active: ping goes out.
	f.monitor.keepalive(ctx)
	if _, keepalive, _ := f.backend.calls(); keepalive != 1 {
		t.Errorf("keepalive calls = %d, want 1", keepalive)
	}

	// Hidden: no ping.
	f.monitor.SetVisible(false)
	f.monitor.keepalive(ctx)
	if _, keepalive, _ := f.backend.calls(); keepalive != 1 {
		t.Error("keepalive pinged while hidden")
	}

	// Visible but idle past the activity window: no ping.
	f.monitor.SetVisible(true)
	f.clock.Advance(time.Hour)
	f.monitor.keepalive(ctx)
	if _, keepalive, _ := f.backend.calls(); keepalive != 1 {
		t.Error("keepalive pinged for an idle user")
	}
}

func TestConfigCache_FetchOnceThenCached(t *testing.T) {
	backend := &fakeBackend{config: &api.SessionConfig{IdleTimeoutMinutes: 45}}
	cc := &configCache{
		cache:    testCacheManager(t),
		backend:  backend,
		logger:   observe.NopLogger(),
		defaults: api.SessionConfig{IdleTimeoutMinutes: 30},
	}
	ctx := context.Background()

	if got := cc.get(ctx); got.IdleTimeoutMinutes != 45 {
		t.Errorf("IdleTimeoutMinutes = %d, want 45", got.IdleTimeoutMinutes)
	}
	cc.get(ctx)
	if _, _, config := backend.calls(); config != 1 {
		t.Errorf("config fetched %d times, want 1", config)
	}

	if got := cc.idleTimeout(ctx, 30*time.Minute); got != 45*time.Minute {
		t.Errorf("idleTimeout = %v, want 45m", got)
	}
}

func TestConfigCache_NotFoundFallsBackToDefaults(t *testing.T) {
	backend := &fakeBackend{configErr: &api.HTTPError{StatusCode: 404}}
	cc := &configCache{
		cache:    testCacheManager(t),
		backend:  backend,
		logger:   observe.NopLogger(),
		defaults: api.SessionConfig{IdleTimeoutMinutes: 30},
	}

	if got := cc.get(context.Background()); got.IdleTimeoutMinutes != 30 {
		t.Errorf("IdleTimeoutMinutes = %d, want default 30", got.IdleTimeoutMinutes)
	}
}

func TestConfigCache_ErrorReusesLastKnown(t *testing.T) {
	backend := &fakeBackend{config: &api.SessionConfig{IdleTimeoutMinutes: 45}}
	cm := testCacheManager(t)
	cc := &configCache{
		cache:    cm,
		backend:  backend,
		logger:   observe.NopLogger(),
		defaults: api.SessionConfig{IdleTimeoutMinutes: 30},
	}
	ctx := context.Background()

	cc.get(ctx) // primes the last-known policy

	// The cached copy vanishes and the backend starts failing.
	cm.Remove(ctx, SessionConfigKey)
	backend.mu.Lock()
	backend.configErr = errors.New("gateway timeout")
	backend.mu.Unlock()

	if got := cc.get(ctx); got.IdleTimeoutMinutes != 45 {
		t.Errorf("IdleTimeoutMinutes = %d, want stale 45", got.IdleTimeoutMinutes)
	}
}
