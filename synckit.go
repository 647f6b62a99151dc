// Package synckit is the composition root for the offline-first client SDK:
// a persistent key/value store, a tiered cache with push invalidation, a
// debounced preference synchronizer, and a session monitor, wired as
// explicitly constructed instances with process-wide lifetime.
package synckit

import (
	"context"
	"fmt"

	"github.com/seatwise/synckit/api"
	"github.com/seatwise/synckit/broadcast"
	"github.com/seatwise/synckit/cache"
	"github.com/seatwise/synckit/config"
	"github.com/seatwise/synckit/netwatch"
	"github.com/seatwise/synckit/observe"
	"github.com/seatwise/synckit/prefs"
	"github.com/seatwise/synckit/session"
	"github.com/seatwise/synckit/store"
)

// Kit bundles the SDK services. Construct with New, start the background
// loops with Start, and release everything with Close.
type Kit struct {
	Config  config.Config
	Store   store.Store
	Cache   *cache.Manager
	Tokens  *session.TokenStore
	Client  *api.Client
	Net     *netwatch.Watcher
	Prefs   *prefs.Manager
	Session *session.Monitor

	// Broadcast is nil unless EnableCacheBroadcast is set.
	Broadcast *broadcast.Listener

	observer observe.Observer
	logger   observe.Logger
}

// SessionCallbacks forwards session transitions to the host application.
type SessionCallbacks = session.Callbacks

// New wires the SDK from configuration. Nothing runs until Start.
func New(ctx context.Context, cfg config.Config, callbacks SessionCallbacks) (*Kit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	observer, err := newObserver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger := observer.Logger()
	if !cfg.TracingEnabled && !cfg.MetricsEnabled {
		// The nop observer carries a nop logger; logging stays on regardless.
		logger = observe.NewLogger(cfg.LogLevel)
	}

	metrics, err := observe.NewMetrics(observer.Meter())
	if err != nil {
		observer.Shutdown(ctx)
		return nil, fmt.Errorf("synckit: building metrics: %w", err)
	}

	var st store.Store
	if cfg.DatabasePath != "" {
		st, err = store.NewSQLiteStore(cfg.DatabasePath)
		if err != nil {
			observer.Shutdown(ctx)
			return nil, fmt.Errorf("synckit: opening store: %w", err)
		}
	} else {
		st = store.NewMemoryStore()
	}

	cacheManager := cache.NewManager(st,
		cache.WithLogger(logger),
		cache.WithMetrics(metrics),
	)
	tokens := session.NewTokenStore(st)

	client, err := api.NewClient(api.ClientConfig{
		BaseURL: cfg.APIBaseURL,
		Tokens:  tokens,
		Logger:  logger,
	})
	if err != nil {
		st.Close()
		observer.Shutdown(ctx)
		return nil, err
	}

	net := netwatch.NewWatcher(netwatch.WatcherConfig{
		Probe: netwatch.NewHTTPProbe(netwatch.HTTPProbeConfig{
			URL: client.BaseURL() + "/api/v1/health",
		}),
		Interval: cfg.ProbeInterval,
		Logger:   logger,
	})

	tracer := observe.NewTracer(observer.Tracer())

	preferences := prefs.NewManager(prefs.Config{
		Cache:            cacheManager,
		Backend:          client,
		Net:              net,
		DebounceInterval: cfg.SyncDebounce,
		BatchThreshold:   cfg.SyncBatchThreshold,
		Logger:           logger,
		Metrics:          metrics,
		Tracer:           tracer,
	})

	monitor := session.NewMonitor(session.MonitorConfig{
		Tokens:            tokens,
		Backend:           client,
		Cache:             cacheManager,
		KeepaliveInterval: cfg.KeepaliveInterval,
		Logger:            logger,
		Metrics:           metrics,
		Tracer:            tracer,
		Callbacks:         callbacks,
	})

	kit := &Kit{
		Config:   cfg,
		Store:    st,
		Cache:    cacheManager,
		Tokens:   tokens,
		Client:   client,
		Net:      net,
		Prefs:    preferences,
		Session:  monitor,
		observer: observer,
		logger:   logger.WithComponent("kit"),
	}

	if cfg.EnableCacheBroadcast {
		kit.Broadcast = broadcast.NewListener(broadcast.ListenerConfig{
			BaseURL: cfg.APIBaseURL,
			Cache:   cacheManager,
			Token:   tokens.AccessToken,
			Logger:  logger,
			Metrics: metrics,
		})
	}

	return kit, nil
}

func newObserver(ctx context.Context, cfg config.Config) (observe.Observer, error) {
	if !cfg.TracingEnabled && !cfg.MetricsEnabled {
		return observe.NewNop(), nil
	}
	return observe.NewObserver(ctx, observe.Config{
		ServiceName: cfg.ServiceName,
		Tracing: observe.TracingConfig{
			Enabled:   cfg.TracingEnabled,
			Exporter:  "otlp",
			Endpoint:  cfg.OTLPEndpoint,
			SamplePct: 1.0,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  cfg.MetricsEnabled,
			Exporter: "otlp",
			Endpoint: cfg.OTLPEndpoint,
		},
		Logging: observe.LoggingConfig{Enabled: true, Level: cfg.LogLevel},
	})
}

// Start launches the background loops and loads the preference document
// offline-first.
func (k *Kit) Start(ctx context.Context) {
	k.Net.Start(ctx)
	if k.Broadcast != nil {
		k.Broadcast.Start(ctx)
	}
	k.Session.Start(ctx)
	k.Prefs.Initialize(ctx, false)
}

// Login exchanges credentials for a token pair and reloads preferences from
// the backend. The username is remembered for form prefill; the forced
// password-change flag is captured best-effort.
func (k *Kit) Login(ctx context.Context, username, password string) error {
	pair, err := k.Client.Login(ctx, username, password)
	if err != nil {
		return err
	}
	if err := k.Tokens.SetPair(pair); err != nil {
		return err
	}
	if err := k.Tokens.SetLastUsername(username); err != nil {
		k.logger.Warn(ctx, "failed to remember username",
			observe.Field{Key: "error", Value: err.Error()})
	}

	if me, err := k.Client.Me(ctx); err == nil {
		_ = k.Tokens.SetMustChangePassword(me.MustChangePassword)
	}

	k.Prefs.Initialize(ctx, true)
	return nil
}

// Logout flushes pending preference changes, tells the backend, and clears
// local credential and preference state. The backend call is best-effort.
func (k *Kit) Logout(ctx context.Context) error {
	_ = k.Prefs.Flush(ctx)
	if err := k.Client.Logout(ctx); err != nil {
		k.logger.Warn(ctx, "backend logout failed",
			observe.Field{Key: "error", Value: err.Error()})
	}
	k.Prefs.ClearCache(ctx)
	return k.Tokens.Clear()
}

// SetVisible reports foreground/background transitions. Going to the
// background flushes pending preference changes, mirroring a tab losing
// visibility.
func (k *Kit) SetVisible(ctx context.Context, visible bool) {
	k.Session.SetVisible(visible)
	if !visible {
		_ = k.Prefs.Flush(ctx)
	}
}

// RecordActivity marks the user as active for session keepalive purposes.
func (k *Kit) RecordActivity() {
	k.Session.RecordActivity()
}

// Close flushes pending changes and releases every resource.
func (k *Kit) Close(ctx context.Context) error {
	_ = k.Prefs.Flush(ctx)
	k.Prefs.Close()
	k.Session.Stop()
	if k.Broadcast != nil {
		k.Broadcast.Stop()
	}
	k.Net.Stop()

	storeErr := k.Store.Close()
	obsErr := k.observer.Shutdown(ctx)
	if storeErr != nil {
		return storeErr
	}
	return obsErr
}
