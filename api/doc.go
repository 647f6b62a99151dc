// Package api is the REST client for the ticketing backend.
//
// It covers the auth endpoints (token, refresh, logout, me, change-password),
// session configuration, and the preferences document read/write used by the
// prefs manager. Background callers classify failures with IsTransient and
// IsOffline rather than inspecting status codes.
package api
