package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seatwise/synckit/observe"
	"github.com/seatwise/synckit/resilience"
)

// TokenSource supplies the current bearer token for authenticated requests.
// An empty string means "no token"; the request goes out unauthenticated.
type TokenSource interface {
	AccessToken() string
}

// TokenSourceFunc adapts a function to a TokenSource.
type TokenSourceFunc func() string

// AccessToken returns the token.
func (f TokenSourceFunc) AccessToken() string { return f() }

// ClientConfig configures the REST client.
type ClientConfig struct {
	// BaseURL is the backend origin, e.g. "https://api.seatwise.example".
	BaseURL string

	// Tokens supplies bearer tokens. Optional; nil sends unauthenticated requests.
	Tokens TokenSource

	// HTTPClient overrides the underlying client. Default: 15s timeout client.
	HTTPClient *http.Client

	// RequestTimeout bounds each request. Default: 15s.
	RequestTimeout time.Duration

	// RetryGets enables one retry pass (3 attempts, exponential backoff)
	// for idempotent GET requests. Default: true unless explicitly disabled
	// via NoRetry.
	NoRetry bool

	// Logger for request diagnostics. Default: discard.
	Logger observe.Logger
}

// Client talks to the ticketing backend.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Context: every method honors ctx cancellation/deadlines.
// - Errors: login failures come back as *AuthError, other non-2xx as
//   *HTTPError; transport failures pass through for IsTransient/IsOffline.
type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  TokenSource
	retry   *resilience.Retry
	logger  observe.Logger
}

// NewClient creates a REST client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api: base URL is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("api: invalid base URL: %w", err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observe.NopLogger()
	}

	var retry *resilience.Retry
	if !cfg.NoRetry {
		retry = resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
			RetryIf:      IsTransient,
		})
	}

	return &Client{
		baseURL: base,
		httpc:   httpc,
		tokens:  cfg.Tokens,
		retry:   retry,
		logger:  logger.WithComponent("api"),
	}, nil
}

// TokenPair is the backend's token grant.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
}

// User is the authenticated principal returned by Me.
type User struct {
	ID                 string   `json:"id"`
	Username           string   `json:"username"`
	Email              string   `json:"email,omitempty"`
	Roles              []string `json:"roles,omitempty"`
	MustChangePassword bool     `json:"must_change_password"`
}

// SessionConfig is the server-driven idle policy.
type SessionConfig struct {
	IdleTimeoutMinutes int    `json:"idle_timeout_minutes"`
	DeviceType         string `json:"device_type"`
}

// Login exchanges credentials for a token pair. The endpoint takes a
// form-encoded body. Rejections come back as *AuthError.
func (c *Client) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug(ctx, "login rejected",
			observe.Field{Key: "status", Value: resp.StatusCode},
			observe.Field{Key: "username", Value: username})
		return nil, classifyLoginFailure(resp.StatusCode, string(body))
	}

	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, fmt.Errorf("api: malformed token response: %w", err)
	}
	return &pair, nil
}

// Refresh exchanges a refresh token for a fresh pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	payload := map[string]string{"refresh_token": refreshToken}
	var pair TokenPair
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/refresh", payload, &pair); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Logout invalidates the current session server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
}

// Me returns the authenticated principal. Doubles as the keepalive ping.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Keepalive pings a lightweight authenticated endpoint to extend the
// server-side session.
func (c *Client) Keepalive(ctx context.Context) error {
	_, err := c.Me(ctx)
	return err
}

// ChangePassword rotates the caller's password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	payload := map[string]string{
		"current_password": current,
		"new_password":     next,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/auth/change-password", payload, nil)
}

// GetSessionConfig fetches the server-driven idle policy.
func (c *Client) GetSessionConfig(ctx context.Context) (*SessionConfig, error) {
	var cfg SessionConfig
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetPreferences fetches the caller's raw preferences document.
func (c *Client) GetPreferences(ctx context.Context) (json.RawMessage, error) {
	var doc json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/users/me/preferences", nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdatePreferences replaces the caller's preferences document.
func (c *Client) UpdatePreferences(ctx context.Context, doc any) error {
	return c.doJSON(ctx, http.MethodPut, "/api/v1/users/me/preferences", doc, nil)
}

// doJSON performs one JSON request/response cycle, retrying idempotent GETs
// on transient failures.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, dest any) error {
	op := func(ctx context.Context) error {
		return c.once(ctx, method, path, payload, dest)
	}
	if c.retry != nil && method == http.MethodGet {
		return c.retry.Execute(ctx, op)
	}
	return op(ctx)
}

func (c *Client) once(ctx context.Context, method, path string, payload, dest any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("api: failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}

	if dest == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("api: malformed response from %s: %w", path, err)
	}
	return nil
}

// BaseURL returns the configured backend origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}
