package api

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// FailureReason classifies a rejected login.
type FailureReason string

const (
	// ReasonLocked means the account is temporarily locked out.
	ReasonLocked FailureReason = "locked"
	// ReasonInactive means the account exists but is disabled.
	ReasonInactive FailureReason = "inactive"
	// ReasonInvalidCredentials means the username/password pair was wrong.
	ReasonInvalidCredentials FailureReason = "invalid_credentials"
	// ReasonUnknown covers everything the heuristics could not place.
	ReasonUnknown FailureReason = "unknown"
)

// AuthError is a typed login failure surfaced to the UI layer.
type AuthError struct {
	Reason      FailureReason
	Message     string
	LockedUntil *time.Time
	StatusCode  int
}

func (e *AuthError) Error() string {
	if e.LockedUntil != nil {
		return fmt.Sprintf("api: login failed (%s until %s)", e.Reason, e.LockedUntil.Format(time.RFC3339))
	}
	return fmt.Sprintf("api: login failed (%s)", e.Reason)
}

// HTTPError is a non-2xx response that is not a login failure.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("api: unexpected status %s", e.Status)
}

// Sentinel errors.
var (
	ErrNoToken        = errors.New("api: no access token available")
	ErrNoRefreshToken = errors.New("api: no refresh token available")
)

// classifyLoginFailure maps a response body onto a FailureReason using the
// same substring heuristics the backend's error strings support.
func classifyLoginFailure(statusCode int, body string) *AuthError {
	lower := strings.ToLower(body)

	authErr := &AuthError{
		Reason:     ReasonUnknown,
		Message:    strings.TrimSpace(body),
		StatusCode: statusCode,
	}

	switch {
	case strings.Contains(lower, "locked"):
		authErr.Reason = ReasonLocked
		if ts := extractLockExpiry(body); ts != nil {
			authErr.LockedUntil = ts
		}
	case strings.Contains(lower, "inactive"), strings.Contains(lower, "disabled"):
		authErr.Reason = ReasonInactive
	case statusCode == 401, strings.Contains(lower, "incorrect"), strings.Contains(lower, "invalid"):
		authErr.Reason = ReasonInvalidCredentials
	}
	return authErr
}

// extractLockExpiry pulls an RFC 3339 timestamp out of a lockout message, if
// the backend included one.
func extractLockExpiry(body string) *time.Time {
	for _, word := range strings.Fields(body) {
		trimmed := strings.Trim(word, `"',.;`)
		if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
			return &t
		}
	}
	return nil
}

// IsTransient reports whether the error is worth retrying later: connectivity
// failures, timeouts, and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsOffline(err) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsOffline reports whether the error looks like lost connectivity rather
// than a server-side rejection. Callers flip their online flag on this.
func IsOffline(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// A response was never received.
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
