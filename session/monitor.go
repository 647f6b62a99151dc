package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seatwise/synckit/api"
	"github.com/seatwise/synckit/cache"
	"github.com/seatwise/synckit/observe"
	"github.com/seatwise/synckit/resilience"
)

// Backend is the slice of the REST client the monitor needs.
type Backend interface {
	Refresh(ctx context.Context, refreshToken string) (*api.TokenPair, error)
	Keepalive(ctx context.Context) error
	GetSessionConfig(ctx context.Context) (*api.SessionConfig, error)
}

var _ Backend = (*api.Client)(nil)

// Callbacks notify the host application about session transitions. Nil
// callbacks are skipped.
type Callbacks struct {
	// OnExpired fires once when the token is expired and cannot be
	// refreshed. It re-arms after a successful refresh or a new login.
	OnExpired func()

	// OnWarning fires when an idle user's session is about to expire,
	// rate-limited to once per minute.
	OnWarning func(remaining time.Duration)

	// OnRefreshed fires after every successful token refresh.
	OnRefreshed func()
}

// MonitorConfig configures a session Monitor.
type MonitorConfig struct {
	// Tokens holds the credential state. Required.
	Tokens *TokenStore

	// Backend performs refresh, keepalive, and policy calls. Required.
	Backend Backend

	// Cache holds the server idle policy. Required.
	Cache *cache.Manager

	// CheckInterval is the expiry check cadence. Default: 30s.
	CheckInterval time.Duration

	// RefreshThreshold triggers a proactive refresh for active users when
	// remaining lifetime drops below it. Default: 5m.
	RefreshThreshold time.Duration

	// WarningThreshold triggers OnWarning for idle users when remaining
	// lifetime drops below it. Default: 5m.
	WarningThreshold time.Duration

	// DefaultIdleTimeout applies when the backend supplies no idle policy.
	// Default: 30m.
	DefaultIdleTimeout time.Duration

	// KeepaliveInterval pings the backend while the app is visible and the
	// user recently active. Zero disables keepalive.
	KeepaliveInterval time.Duration

	// ActivityWindow is how recent activity must be for a keepalive ping.
	// Default: 10m.
	ActivityWindow time.Duration

	// Logger, Metrics, and Tracer record refresh outcomes. Default: discard.
	Logger  observe.Logger
	Metrics observe.Metrics
	Tracer  observe.Tracer

	Callbacks Callbacks
}

// Monitor keeps the token pair alive without interrupting an active user.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: background refresh failures are logged and surface only through
//   OnExpired; Refresh propagates its error to direct callers.
type Monitor struct {
	tokens    *TokenStore
	backend   Backend
	policy    *configCache
	callbacks Callbacks
	logger    observe.Logger

	// refreshOp is the instrumented token exchange.
	refreshOp observe.SyncFunc

	checkInterval      time.Duration
	refreshThreshold   time.Duration
	warningThreshold   time.Duration
	defaultIdleTimeout time.Duration
	keepaliveInterval  time.Duration
	activityWindow     time.Duration

	group           singleflight.Group
	warnLimiter     *resilience.RateLimiter
	activityLimiter *resilience.RateLimiter

	mu              sync.Mutex
	now             func() time.Time
	visible         bool
	lastActivity    time.Time
	expiredNotified bool
	cancel          context.CancelFunc
	done            chan struct{}
}

// NewMonitor creates a session Monitor. Call Start to begin the check loop.
func NewMonitor(config MonitorConfig) *Monitor {
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
	}
	if config.RefreshThreshold <= 0 {
		config.RefreshThreshold = 5 * time.Minute
	}
	if config.WarningThreshold <= 0 {
		config.WarningThreshold = 5 * time.Minute
	}
	if config.DefaultIdleTimeout <= 0 {
		config.DefaultIdleTimeout = 30 * time.Minute
	}
	if config.ActivityWindow <= 0 {
		config.ActivityWindow = 10 * time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = observe.NopLogger()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = observe.NopMetrics()
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = observe.NopTracer()
	}

	m := &Monitor{
		tokens:    config.Tokens,
		backend:   config.Backend,
		callbacks: config.Callbacks,
		logger:    logger.WithComponent("session"),

		checkInterval:      config.CheckInterval,
		refreshThreshold:   config.RefreshThreshold,
		warningThreshold:   config.WarningThreshold,
		defaultIdleTimeout: config.DefaultIdleTimeout,
		keepaliveInterval:  config.KeepaliveInterval,
		activityWindow:     config.ActivityWindow,

		warnLimiter:     resilience.NewIntervalLimiter(time.Minute),
		activityLimiter: resilience.NewIntervalLimiter(5 * time.Second),

		now:     time.Now,
		visible: true,
	}
	m.lastActivity = time.Now()
	m.refreshOp = observe.NewMiddleware(tracer, metrics, logger).
		Wrap(observe.OpMeta{Component: "session", Name: "refresh"}, m.refreshOnce)
	m.policy = &configCache{
		cache:   config.Cache,
		backend: config.Backend,
		logger:  m.logger,
		defaults: api.SessionConfig{
			IdleTimeoutMinutes: int(config.DefaultIdleTimeout / time.Minute),
			DeviceType:         "desktop",
		},
	}
	return m
}

// SetClock overrides the time source. Test hook.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.lastActivity = now()
	m.mu.Unlock()
	m.warnLimiter.SetClock(now)
	m.activityLimiter.SetClock(now)
}

// Start launches the expiry check loop and, if configured, the keepalive
// loop. Idempotent.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
}

// Stop halts the loops.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	check := time.NewTicker(m.checkInterval)
	defer check.Stop()

	var keepalive <-chan time.Time
	if m.keepaliveInterval > 0 {
		t := time.NewTicker(m.keepaliveInterval)
		defer t.Stop()
		keepalive = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-check.C:
			m.CheckNow(ctx)
		case <-keepalive:
			m.keepalive(ctx)
		}
	}
}

// RecordActivity marks the user as active. Calls are throttled internally,
// so the host can wire it to high-frequency input events directly.
func (m *Monitor) RecordActivity() {
	if !m.activityLimiter.Allow() {
		return
	}
	m.mu.Lock()
	m.lastActivity = m.now()
	m.mu.Unlock()
}

// SetVisible reports foreground/background transitions. Coming back to the
// foreground triggers an immediate expiry check.
func (m *Monitor) SetVisible(visible bool) {
	m.mu.Lock()
	was := m.visible
	m.visible = visible
	m.mu.Unlock()

	if visible && !was {
		go m.CheckNow(context.Background())
	}
}

// IdleFor returns how long the user has been inactive.
func (m *Monitor) IdleFor() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.lastActivity)
}

// CheckNow runs one expiry check: refresh if expired or expiring under an
// active user, warn an idle user, or do nothing.
func (m *Monitor) CheckNow(ctx context.Context) {
	token := m.tokens.AccessToken()
	if token == "" {
		return
	}
	exp, ok := tokenExpiry(token)
	if !ok {
		// Opaque token: the backend enforces expiry on its own.
		return
	}

	m.mu.Lock()
	now := m.now()
	m.mu.Unlock()
	remaining := time.Unix(exp, 0).Sub(now)

	if remaining <= 0 {
		m.handleExpired(ctx)
		return
	}

	m.mu.Lock()
	m.expiredNotified = false
	m.mu.Unlock()

	idle := m.IdleFor() >= m.policy.idleTimeout(ctx, m.defaultIdleTimeout)

	if remaining < m.refreshThreshold && !idle {
		if err := m.Refresh(ctx); err != nil {
			m.logger.Warn(ctx, "proactive refresh failed",
				observe.Field{Key: "error", Value: err.Error()})
		}
		return
	}

	if remaining < m.warningThreshold && idle && m.warnLimiter.Allow() {
		if cb := m.callbacks.OnWarning; cb != nil {
			cb(remaining)
		}
	}
}

// handleExpired tries a refresh before declaring the session dead. OnExpired
// fires at most once per expiry.
func (m *Monitor) handleExpired(ctx context.Context) {
	if m.tokens.RefreshToken() != "" {
		if err := m.Refresh(ctx); err == nil {
			return
		}
	}

	m.mu.Lock()
	notified := m.expiredNotified
	m.expiredNotified = true
	m.mu.Unlock()
	if notified {
		return
	}

	m.logger.Info(ctx, "session expired")
	if cb := m.callbacks.OnExpired; cb != nil {
		cb()
	}
}

// Refresh exchanges the refresh token for a new pair. Concurrent callers
// share one in-flight request.
func (m *Monitor) Refresh(ctx context.Context) error {
	_, err, _ := m.group.Do("refresh", func() (any, error) {
		return nil, m.refreshOp(ctx)
	})
	return err
}

// refreshOnce performs one token exchange. Telemetry comes from the
// middleware wrapper around it.
func (m *Monitor) refreshOnce(ctx context.Context) error {
	refreshToken := m.tokens.RefreshToken()
	if refreshToken == "" {
		return api.ErrNoRefreshToken
	}

	pair, err := m.backend.Refresh(ctx, refreshToken)
	if err != nil {
		return err
	}
	if err := m.tokens.SetPair(pair); err != nil {
		return err
	}

	m.mu.Lock()
	m.expiredNotified = false
	m.mu.Unlock()

	if cb := m.callbacks.OnRefreshed; cb != nil {
		cb()
	}
	return nil
}

// keepalive pings the backend if the app is visible and the user was
// recently active.
func (m *Monitor) keepalive(ctx context.Context) {
	m.mu.Lock()
	visible := m.visible
	idle := m.now().Sub(m.lastActivity)
	m.mu.Unlock()

	if !visible || idle > m.activityWindow {
		return
	}
	if m.tokens.AccessToken() == "" {
		return
	}
	if err := m.backend.Keepalive(ctx); err != nil {
		m.logger.Debug(ctx, "keepalive ping failed",
			observe.Field{Key: "error", Value: err.Error()})
	}
}
