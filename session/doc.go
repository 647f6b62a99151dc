// Package session keeps an access/refresh token pair alive without
// interrupting an active user.
//
// A Monitor checks token expiry on a fixed interval. Expired tokens are
// refreshed before the host ever hears about expiry; active users get a
// proactive refresh shortly before expiry, idle users get a rate-limited
// warning instead. The idle threshold comes from a server-driven policy,
// cached for an hour with graceful fallback to defaults.
//
// The host bridges real UI events in through RecordActivity and SetVisible;
// nothing in this package knows about input devices or windows.
package session
