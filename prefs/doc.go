// Package prefs manages the user preference document offline-first.
//
// The document lives in the persistent cache and every mutation writes
// through to it synchronously, so reads within a session always see the
// latest write even with the network down. Network pushes are debounced and
// batched; failures leave the dirty state queued for the next debounce or
// online transition and never reach the caller, except through the *Sync
// variants and Flush which exist precisely to await completion.
//
// Known preference categories are typed structs; unknown fields from newer
// backends round-trip through Extra maps.
package prefs
