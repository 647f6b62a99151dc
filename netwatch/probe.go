package netwatch

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Probe answers one reachability question.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Check must honor cancellation/deadlines.
// - Errors: a nil error means reachable; any error means unreachable.
type Probe interface {
	// Name returns the name of this probe.
	Name() string

	// Check performs the reachability check.
	Check(ctx context.Context) error
}

// ProbeFunc adapts an ordinary function to a Probe.
type ProbeFunc struct {
	name string
	fn   func(context.Context) error
}

// NewProbeFunc creates a ProbeFunc.
func NewProbeFunc(name string, fn func(context.Context) error) *ProbeFunc {
	return &ProbeFunc{name: name, fn: fn}
}

// Name returns the name of this probe.
func (p *ProbeFunc) Name() string { return p.name }

// Check performs the reachability check.
func (p *ProbeFunc) Check(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return p.fn(ctx)
}

// HTTPProbeConfig configures the HTTP reachability probe.
type HTTPProbeConfig struct {
	// URL is the endpoint to hit. Required.
	URL string

	// Timeout bounds each probe request. Default: 5s.
	Timeout time.Duration

	// HTTPClient overrides the underlying client.
	HTTPClient *http.Client
}

// HTTPProbe reports reachability by issuing a GET against a lightweight
// endpoint. Any HTTP response at all counts as online; only transport
// failures count as offline, since a 401 still proves the wire works.
type HTTPProbe struct {
	config HTTPProbeConfig
	httpc  *http.Client
}

// NewHTTPProbe creates an HTTP reachability probe.
func NewHTTPProbe(config HTTPProbeConfig) *HTTPProbe {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	httpc := config.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: config.Timeout}
	}
	return &HTTPProbe{config: config, httpc: httpc}
}

// Name returns "http".
func (p *HTTPProbe) Name() string { return "http" }

// Check issues the probe request.
func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL, nil)
	if err != nil {
		return fmt.Errorf("netwatch: bad probe URL: %w", err)
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Ensure implementations satisfy Probe
var (
	_ Probe = (*ProbeFunc)(nil)
	_ Probe = (*HTTPProbe)(nil)
)
