package session

import (
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/seatwise/synckit/api"
	"github.com/seatwise/synckit/store"
)

// Storage keys for the credential state. Values are JSON-encoded like every
// other entry in the store.
const (
	keyAuthToken          = "auth_token"
	keyRefreshToken       = "refresh_token"
	keyLastUsername       = "last_username"
	keyMustChangePassword = "must_change_password"
)

// TokenStore persists the token pair and login bookkeeping. It implements
// api.TokenSource so it can plug straight into the REST client.
//
// Contract:
// - Concurrency: safe for concurrent use when the underlying store is.
// - Errors: reads downgrade storage failures to "absent"; writes propagate.
type TokenStore struct {
	store store.Store
}

var _ api.TokenSource = (*TokenStore)(nil)

// NewTokenStore wraps a key/value store.
func NewTokenStore(st store.Store) *TokenStore {
	return &TokenStore{store: st}
}

// AccessToken returns the stored access token, empty if absent.
func (s *TokenStore) AccessToken() string {
	return s.readString(keyAuthToken)
}

// RefreshToken returns the stored refresh token, empty if absent.
func (s *TokenStore) RefreshToken() string {
	return s.readString(keyRefreshToken)
}

// LastUsername returns the username of the last login, empty if none.
func (s *TokenStore) LastUsername() string {
	return s.readString(keyLastUsername)
}

// MustChangePassword reports whether the backend flagged the account for a
// forced password change.
func (s *TokenStore) MustChangePassword() bool {
	raw, ok, err := s.store.Get(keyMustChangePassword)
	if err != nil || !ok {
		return false
	}
	var v bool
	if json.Unmarshal(raw, &v) != nil {
		return false
	}
	return v
}

// SetPair stores a freshly granted token pair. An empty refresh token leaves
// the previous one in place, matching backends that rotate only the access
// token.
func (s *TokenStore) SetPair(pair *api.TokenPair) error {
	if err := s.writeString(keyAuthToken, pair.AccessToken); err != nil {
		return err
	}
	if pair.RefreshToken != "" {
		return s.writeString(keyRefreshToken, pair.RefreshToken)
	}
	return nil
}

// SetLastUsername records the username for login-form prefill.
func (s *TokenStore) SetLastUsername(username string) error {
	return s.writeString(keyLastUsername, username)
}

// SetMustChangePassword records the forced-change flag.
func (s *TokenStore) SetMustChangePassword(v bool) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.store.Set(keyMustChangePassword, raw)
}

// Clear removes the credential state. The last username survives so the next
// login form can prefill it.
func (s *TokenStore) Clear() error {
	for _, key := range []string{keyAuthToken, keyRefreshToken, keyMustChangePassword} {
		if err := s.store.Delete(key); err != nil {
			return fmt.Errorf("session: clearing %s: %w", key, err)
		}
	}
	return nil
}

func (s *TokenStore) readString(key string) string {
	raw, ok, err := s.store.Get(key)
	if err != nil || !ok {
		return ""
	}
	var v string
	if json.Unmarshal(raw, &v) != nil {
		return ""
	}
	return v
}

func (s *TokenStore) writeString(key, value string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.store.Set(key, raw)
}

// tokenExpiry reads the exp claim from a JWT without verifying the
// signature. Expiry is advisory here; the backend is the authority.
func tokenExpiry(token string) (exp int64, ok bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return 0, false
	}
	t, err := parsed.Claims.GetExpirationTime()
	if err != nil || t == nil {
		return 0, false
	}
	return t.Unix(), true
}
