// Package netwatch tracks backend reachability for the sync toolkit.
//
// It stands in for the browser's online/offline events: a Watcher probes a
// lightweight endpoint on an interval and fans out transitions to
// subscribers. The preferences manager pauses its debounce timer while
// offline and syncs immediately on reconnect; the session monitor and the
// push-invalidation listener also key off these transitions.
package netwatch
