package netwatch

import (
	"context"
	"sync"
	"time"

	"github.com/seatwise/synckit/observe"
)

// Status is the connectivity state.
type Status int

const (
	// StatusUnknown means no probe has completed yet.
	StatusUnknown Status = iota
	// StatusOnline means the backend is reachable.
	StatusOnline
	// StatusOffline means the backend is unreachable.
	StatusOffline
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// WatcherConfig configures the connectivity watcher.
type WatcherConfig struct {
	// Probe answers reachability. Required.
	Probe Probe

	// Interval between probes. Default: 15s.
	Interval time.Duration

	// OfflineThreshold is the number of consecutive probe failures before
	// the watcher reports offline. A single success flips back immediately.
	// Default: 2, damping one-off flaps.
	OfflineThreshold int

	// Logger for transition diagnostics. Default: discard.
	Logger observe.Logger
}

// Watcher polls a Probe and fans out online/offline transitions.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: probe failures never propagate; they only move the status.
type Watcher struct {
	config WatcherConfig
	logger observe.Logger

	mu          sync.Mutex
	status      Status
	failures    int
	forced      bool
	subscribers map[int]func(Status)
	nextID      int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a connectivity watcher.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.Interval <= 0 {
		config.Interval = 15 * time.Second
	}
	if config.OfflineThreshold <= 0 {
		config.OfflineThreshold = 2
	}
	logger := config.Logger
	if logger == nil {
		logger = observe.NopLogger()
	}

	return &Watcher{
		config:      config,
		logger:      logger.WithComponent("netwatch"),
		status:      StatusUnknown,
		subscribers: make(map[int]func(Status)),
	}
}

// Start begins the probe loop. Idempotent; a second Start is a no-op until
// Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx)
}

// Stop halts the probe loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	// Probe immediately so callers have a status before the first tick.
	w.CheckNow(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.CheckNow(ctx)
		}
	}
}

// CheckNow runs one probe cycle synchronously and applies the result.
func (w *Watcher) CheckNow(ctx context.Context) Status {
	err := w.config.Probe.Check(ctx)

	w.mu.Lock()
	if w.forced {
		status := w.status
		w.mu.Unlock()
		return status
	}

	var next Status
	if err == nil {
		w.failures = 0
		next = StatusOnline
	} else {
		w.failures++
		if w.failures >= w.config.OfflineThreshold || w.status == StatusUnknown {
			next = StatusOffline
		} else {
			// Not enough failures yet to flip; hold the current status.
			next = w.status
		}
	}
	w.applyLocked(ctx, next)
	status := w.status
	w.mu.Unlock()
	return status
}

// SetOnline forces the status, bypassing the probe, for hosts that receive
// platform connectivity events directly. Forcing stays in effect until
// ClearOverride.
func (w *Watcher) SetOnline(online bool) {
	w.mu.Lock()
	w.forced = true
	next := StatusOffline
	if online {
		next = StatusOnline
	}
	w.applyLocked(context.Background(), next)
	w.mu.Unlock()
}

// ClearOverride returns control to the probe loop.
func (w *Watcher) ClearOverride() {
	w.mu.Lock()
	w.forced = false
	w.failures = 0
	w.mu.Unlock()
}

// Status returns the current connectivity status.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Online reports whether the backend is currently considered reachable.
func (w *Watcher) Online() bool {
	return w.Status() == StatusOnline
}

// Subscribe registers a transition callback and returns an unsubscribe
// function. The callback fires only on status changes, not on every probe.
func (w *Watcher) Subscribe(fn func(Status)) func() {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.subscribers[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.subscribers, id)
		w.mu.Unlock()
	}
}

// applyLocked transitions the status and notifies subscribers. Caller holds
// w.mu; callbacks are invoked on a copy without the lock.
func (w *Watcher) applyLocked(ctx context.Context, next Status) {
	if next == w.status {
		return
	}
	prev := w.status
	w.status = next

	subs := make([]func(Status), 0, len(w.subscribers))
	for _, fn := range w.subscribers {
		subs = append(subs, fn)
	}

	w.logger.Info(ctx, "connectivity changed",
		observe.Field{Key: "from", Value: prev.String()},
		observe.Field{Key: "to", Value: next.String()})

	w.mu.Unlock()
	for _, fn := range subs {
		fn(next)
	}
	w.mu.Lock()
}
