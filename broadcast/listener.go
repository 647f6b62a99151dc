package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seatwise/synckit/cache"
	"github.com/seatwise/synckit/observe"
	"github.com/seatwise/synckit/resilience"
)

// State is the transport's lifecycle state.
type State int

const (
	// StateIdle means Start has not been called.
	StateIdle State = iota
	// StateConnecting means a dial or reconnect is in progress.
	StateConnecting
	// StateConnected means invalidation messages are flowing.
	StateConnected
	// StateUnavailable means the endpoint is absent or reconnection gave up.
	StateUnavailable
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// WebSocketPath and SSEPath are the push-invalidation endpoints, relative to
// the API base.
const (
	WebSocketPath = "/ws/cache-invalidate"
	SSEPath       = "/api/v1/cache/invalidate/stream"
)

// ListenerConfig configures the push-invalidation listener.
type ListenerConfig struct {
	// BaseURL is the backend origin, e.g. "https://api.seatwise.example".
	BaseURL string

	// Cache receives decoded invalidation messages. Required.
	Cache *cache.Manager

	// Token supplies the bearer token for the dial. Optional.
	Token func() string

	// MaxReconnectAttempts caps the reconnect loop after a lost connection.
	// Default: 5.
	MaxReconnectAttempts int

	// DialTimeout bounds each connection attempt. Default: 10s.
	DialTimeout time.Duration

	// Logger and Metrics record transport availability. Default: discard.
	Logger  observe.Logger
	Metrics observe.Metrics
}

// Listener consumes invalidation messages over a best-effort transport.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: nothing propagates; all failures resolve to StateUnavailable.
type Listener struct {
	config  ListenerConfig
	logger  observe.Logger
	metrics observe.Metrics
	backoff *resilience.Retry

	mu         sync.Mutex
	state      State
	everOpened bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewListener creates a push-invalidation listener.
func NewListener(config ListenerConfig) *Listener {
	if config.MaxReconnectAttempts <= 0 {
		config.MaxReconnectAttempts = 5
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = observe.NopLogger()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = observe.NopMetrics()
	}

	return &Listener{
		config:  config,
		logger:  logger.WithComponent("broadcast"),
		metrics: metrics,
		backoff: resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  config.MaxReconnectAttempts,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		}),
		state: StateIdle,
	}
}

// Start opens the transport in the background. Idempotent.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.setStateLocked(StateConnecting)
	l.mu.Unlock()

	go l.run(ctx)
}

// Stop closes the transport and waits for the background loop to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.done = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	l.mu.Lock()
	l.setStateLocked(StateIdle)
	l.mu.Unlock()
}

// State returns the transport state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Listener) setStateLocked(s State) {
	l.state = s
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// run owns the connect/consume/reconnect cycle.
func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		opened := l.connectAndConsume(ctx)

		if ctx.Err() != nil {
			return
		}

		if opened {
			// The connection worked and was then lost: reconnect with backoff.
			l.mu.Lock()
			l.everOpened = true
			l.mu.Unlock()
			attempt = 0
			l.logger.Warn(ctx, "push transport lost, reconnecting")
		}

		l.mu.Lock()
		ever := l.everOpened
		l.mu.Unlock()

		if !ever {
			// Both transports failed before any first open: the endpoint
			// does not exist. Do not retry.
			l.setState(StateUnavailable)
			l.logger.Debug(ctx, "push invalidation endpoint unavailable, continuing without it")
			return
		}

		attempt++
		if attempt > l.config.MaxReconnectAttempts {
			l.setState(StateUnavailable)
			l.logger.Warn(ctx, "push transport reconnection gave up",
				observe.Field{Key: "attempts", Value: l.config.MaxReconnectAttempts})
			return
		}

		l.setState(StateConnecting)
		delay := l.backoff.Delay(attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndConsume tries WebSocket first, then SSE. It returns true if
// either transport opened successfully (regardless of how it ended).
func (l *Listener) connectAndConsume(ctx context.Context) bool {
	if l.consumeWebSocket(ctx) {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	// Socket errored before first open: fall back to SSE.
	return l.consumeSSE(ctx)
}

// consumeWebSocket dials the socket and pumps messages until the connection
// drops. Returns true if the dial succeeded.
func (l *Listener) consumeWebSocket(ctx context.Context) bool {
	wsURL := websocketURL(l.config.BaseURL) + WebSocketPath

	dialer := websocket.Dialer{HandshakeTimeout: l.config.DialTimeout}
	header := http.Header{}
	if l.config.Token != nil {
		if token := l.config.Token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	l.metrics.RecordReconnect(ctx, "websocket", err)
	if err != nil {
		return false
	}
	defer conn.Close()

	l.setState(StateConnected)
	l.logger.Info(ctx, "push transport connected",
		observe.Field{Key: "transport", Value: "websocket"})

	// Unblock the read loop when the context is canceled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true
		}
		l.dispatch(ctx, data)
	}
}

// dispatch decodes one invalidation message and applies it. Malformed
// payloads are dropped.
func (l *Listener) dispatch(ctx context.Context, data []byte) {
	var msg cache.Invalidation
	if err := json.Unmarshal(data, &msg); err != nil {
		l.logger.Debug(ctx, "dropping malformed invalidation payload")
		return
	}
	if msg.Type != "invalidate" {
		return
	}
	l.config.Cache.HandleInvalidation(ctx, msg)
}

// websocketURL rewrites an http(s) origin to its ws(s) equivalent.
func websocketURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
