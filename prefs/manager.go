package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seatwise/synckit/api"
	"github.com/seatwise/synckit/cache"
	"github.com/seatwise/synckit/netwatch"
	"github.com/seatwise/synckit/observe"
	"github.com/seatwise/synckit/resilience"
)

// Cache keys for the preference document and its sync bookkeeping, relative
// to the cache manager's store prefix.
const (
	DocumentKey = "user:preferences"
	MetadataKey = "user:preferences:metadata"
)

// pathWildcard marks "everything changed" in the pending set.
const pathWildcard = "*"

// Backend is the slice of the REST client the manager needs.
type Backend interface {
	GetPreferences(ctx context.Context) (json.RawMessage, error)
	UpdatePreferences(ctx context.Context, doc any) error
}

var _ Backend = (*api.Client)(nil)

// syncMetadata is persisted beside the document for diagnostics. It is not
// used for correctness beyond resuming a dirty sync after a restart.
type syncMetadata struct {
	LastSync int64 `json:"lastSync"`
	IsDirty  bool  `json:"isDirty"`
}

// Config configures a preferences Manager.
type Config struct {
	// Cache persists the document between sessions. Required.
	Cache *cache.Manager

	// Backend performs the network reads and writes. Required.
	Backend Backend

	// Net reports connectivity transitions. Optional; without it the manager
	// assumes it is online until a request fails like a dead network.
	Net *netwatch.Watcher

	// DebounceInterval is the quiet period before dirty state is pushed.
	// Default: 2s.
	DebounceInterval time.Duration

	// BatchThreshold forces an immediate sync once this many distinct paths
	// are pending. Default: 10.
	BatchThreshold int

	// PushTimeout bounds a single network write. Background syncs run on a
	// detached context, so this is the only deadline they carry.
	// Default: 30s.
	PushTimeout time.Duration

	// Logger, Metrics, and Tracer record sync outcomes. Default: discard.
	Logger  observe.Logger
	Metrics observe.Metrics
	Tracer  observe.Tracer
}

// Manager holds the preference document, writes mutations through to the
// persistent cache synchronously, and pushes them to the backend with
// debouncing and batching.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: background syncs never surface errors; they are logged and the
//   dirty state is retried on the next debounce or online transition. Only
//   the *Sync variants and Flush propagate network errors.
type Manager struct {
	cache       *cache.Manager
	backend     Backend
	net         *netwatch.Watcher
	debounce    time.Duration
	batch       int
	pushTimeout time.Duration
	logger      observe.Logger

	// push is the instrumented network write shared by every sync path.
	push observe.SyncFunc

	group singleflight.Group

	mu            sync.Mutex
	initialized   bool
	doc           Document
	pending       map[string]struct{}
	dirty         bool
	gen           uint64
	lastSync      time.Time
	assumeOffline bool
	timer         *time.Timer
	unsubNet      func()
}

// NewManager creates a preferences Manager.
func NewManager(config Config) *Manager {
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 2 * time.Second
	}
	if config.BatchThreshold <= 0 {
		config.BatchThreshold = 10
	}
	if config.PushTimeout <= 0 {
		config.PushTimeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = observe.NopLogger()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = observe.NopMetrics()
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = observe.NopTracer()
	}

	m := &Manager{
		cache:       config.Cache,
		backend:     config.Backend,
		net:         config.Net,
		debounce:    config.DebounceInterval,
		batch:       config.BatchThreshold,
		pushTimeout: config.PushTimeout,
		logger:      logger.WithComponent("prefs"),
		pending:     make(map[string]struct{}),
	}
	m.push = observe.NewMiddleware(tracer, metrics, logger).
		Wrap(observe.OpMeta{Component: "prefs", Name: "sync"}, m.pushOnce)

	if m.net != nil {
		m.unsubNet = m.net.Subscribe(m.onConnectivity)
	}
	return m
}

// Close stops the debounce timer and detaches from the connectivity watcher.
// Pending changes stay in the persistent cache for the next session.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	unsub := m.unsubNet
	m.unsubNet = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Initialize loads the document, offline-first. With a cached copy and no
// force, the cache is used immediately and a background sync runs only if
// dirty state was left behind. With an empty cache or forceReload, the
// backend is fetched while online; a dirty local copy is merged in with
// local values winning at conflicting leaves. Failures never propagate; the
// manager falls back to the cached copy or an empty document.
func (m *Manager) Initialize(ctx context.Context, forceReload bool) {
	m.mu.Lock()
	if m.initialized && !forceReload {
		m.mu.Unlock()
		return
	}
	local := m.doc
	wasInitialized := m.initialized
	localDirty := m.dirty
	m.mu.Unlock()

	var cached Document
	haveCache := m.cache.GetJSON(ctx, DocumentKey, cache.TierPersistent, &cached)
	var meta syncMetadata
	m.cache.GetJSON(ctx, MetadataKey, cache.TierPersistent, &meta)

	if !wasInitialized {
		local = cached
		localDirty = meta.IsDirty
	}

	if haveCache && !forceReload {
		m.mu.Lock()
		m.doc = cached
		m.initialized = true
		if meta.IsDirty && !m.dirty {
			m.pending[pathWildcard] = struct{}{}
			m.dirty = true
			m.gen++
		}
		dirty := m.dirty
		m.mu.Unlock()
		if dirty {
			go m.syncBackground()
		}
		return
	}

	if m.online() {
		raw, err := m.backend.GetPreferences(ctx)
		if err == nil {
			var server Document
			if decodeErr := json.Unmarshal(raw, &server); decodeErr == nil {
				m.adoptServer(ctx, server, local, (haveCache || wasInitialized) && localDirty)
				return
			}
			m.logger.Warn(ctx, "backend returned undecodable preferences, keeping local copy")
		} else {
			m.noteSyncError(ctx, "preference fetch failed", err)
		}
	}

	// Offline or the fetch failed: whatever is cached, or an empty document.
	m.mu.Lock()
	if haveCache && !m.initialized {
		m.doc = cached
		if meta.IsDirty {
			m.pending[pathWildcard] = struct{}{}
			m.dirty = true
			m.gen++
		}
	}
	m.initialized = true
	m.mu.Unlock()
}

// adoptServer installs a freshly fetched document, merging dirty local state
// over it when present.
func (m *Manager) adoptServer(ctx context.Context, server, local Document, localDirty bool) {
	m.mu.Lock()
	if localDirty {
		serverMap, serr := server.toMap()
		localMap, lerr := local.toMap()
		if serr == nil && lerr == nil {
			var merged Document
			if err := merged.fromMap(deepMerge(serverMap, localMap)); err == nil {
				m.doc = merged
				m.pending[pathWildcard] = struct{}{}
				m.dirty = true
				m.gen++
			}
		}
	} else {
		m.doc = server
		m.pending = make(map[string]struct{})
		m.dirty = false
		m.lastSync = time.Now()
	}
	m.initialized = true
	snapshot := m.doc
	dirty := m.dirty
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	m.persistMetadata(ctx)
	if dirty {
		go m.syncBackground()
	}
}

// Initialized reports whether Initialize has completed.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Document returns a snapshot of the current document.
func (m *Manager) Document() Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc
}

// Get resolves a dot-joined path like "ui.theme".
func (m *Manager) Get(path string) (any, bool) {
	m.mu.Lock()
	doc := m.doc
	m.mu.Unlock()
	return doc.Lookup(path)
}

// Set writes value at path, persists the document, and schedules a debounced
// sync. The write is visible to Get immediately.
func (m *Manager) Set(ctx context.Context, path string, value any) error {
	return m.mutate(ctx, func(doc map[string]any) ([]string, error) {
		parts, err := splitPath(path)
		if err != nil {
			return nil, err
		}
		setPath(doc, parts, value)
		return []string{path}, nil
	})
}

// Update deep-merges partial into the document. Source values win at leaves;
// arrays and primitives are replaced wholesale.
func (m *Manager) Update(ctx context.Context, partial map[string]any) error {
	if len(partial) == 0 {
		return nil
	}
	return m.mutate(ctx, func(doc map[string]any) ([]string, error) {
		merged := deepMerge(doc, partial)
		for k := range doc {
			delete(doc, k)
		}
		for k, v := range merged {
			doc[k] = v
		}
		paths := make([]string, 0, len(partial))
		for k := range partial {
			paths = append(paths, k)
		}
		return paths, nil
	})
}

// Remove deletes the value at path. Removing an absent path is a no-op and
// does not mark the document dirty.
func (m *Manager) Remove(ctx context.Context, path string) error {
	return m.mutate(ctx, func(doc map[string]any) ([]string, error) {
		parts, err := splitPath(path)
		if err != nil {
			return nil, err
		}
		if !removePath(doc, parts) {
			return nil, nil
		}
		return []string{path}, nil
	})
}

// SetSync is Set without debouncing: it pushes to the backend before
// returning and propagates the network error.
func (m *Manager) SetSync(ctx context.Context, path string, value any) error {
	if err := m.Set(ctx, path, value); err != nil {
		return err
	}
	return m.syncNow(ctx)
}

// UpdateSync is Update without debouncing.
func (m *Manager) UpdateSync(ctx context.Context, partial map[string]any) error {
	if err := m.Update(ctx, partial); err != nil {
		return err
	}
	return m.syncNow(ctx)
}

// RemoveSync is Remove without debouncing.
func (m *Manager) RemoveSync(ctx context.Context, path string) error {
	if err := m.Remove(ctx, path); err != nil {
		return err
	}
	return m.syncNow(ctx)
}

// Flush pushes dirty state immediately. Offline it defers silently; the
// changes stay queued for the next online transition.
func (m *Manager) Flush(ctx context.Context) error {
	if !m.online() {
		return nil
	}
	return m.syncNow(ctx)
}

// IsDirty reports whether unsynced changes are pending.
func (m *Manager) IsDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// LastSync returns the time of the last successful push, zero if none.
func (m *Manager) LastSync() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync
}

// Reset discards all in-memory state without touching the cache or the
// backend.
func (m *Manager) Reset() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.doc = Document{}
	m.pending = make(map[string]struct{})
	m.dirty = false
	m.gen++
	m.initialized = false
	m.lastSync = time.Time{}
	m.mu.Unlock()
}

// ClearCache removes the cached document and metadata, typically on logout,
// and resets the manager. The backend copy is untouched.
func (m *Manager) ClearCache(ctx context.Context) {
	m.Reset()
	_ = m.cache.Remove(ctx, DocumentKey)
	_ = m.cache.Remove(ctx, MetadataKey)
}

// mutate applies fn to the map form of the document, writes the result
// through to the persistent cache, and schedules the sync. fn returns the
// pending paths it touched; an empty result means nothing changed.
func (m *Manager) mutate(ctx context.Context, fn func(doc map[string]any) ([]string, error)) error {
	m.mu.Lock()
	docMap, err := m.doc.toMap()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("prefs: failed to encode document: %w", err)
	}

	paths, err := fn(docMap)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if len(paths) == 0 {
		m.mu.Unlock()
		return nil
	}

	var next Document
	if err := next.fromMap(docMap); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("prefs: value does not fit the document shape: %w", err)
	}

	m.doc = next
	for _, p := range paths {
		m.pending[p] = struct{}{}
	}
	m.dirty = true
	m.gen++
	snapshot := next
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	m.persistMetadata(ctx)

	m.mu.Lock()
	m.scheduleLocked()
	m.mu.Unlock()
	return nil
}

// scheduleLocked restarts the debounce timer, or fires immediately once the
// batch threshold is reached. Offline, any pending timer is dropped and the
// changes stay queued. Caller holds m.mu.
func (m *Manager) scheduleLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if !m.onlineLocked() {
		return
	}
	if len(m.pending) >= m.batch {
		go m.syncBackground()
		return
	}
	m.timer = time.AfterFunc(m.debounce, m.syncBackground)
}

// syncBackground runs a sync without a caller. Errors are already logged by
// syncNow and the dirty state stays for the next trigger.
func (m *Manager) syncBackground() {
	_ = m.syncNow(context.Background())
}

// syncNow pushes the current document. Concurrent callers share one
// in-flight request.
func (m *Manager) syncNow(ctx context.Context) error {
	_, err, _ := m.group.Do("sync", func() (any, error) {
		m.mu.Lock()
		dirty := m.dirty
		m.mu.Unlock()
		if !dirty {
			return nil, nil
		}
		return nil, m.push(ctx)
	})
	return err
}

// pushOnce performs one network write of the current document. Telemetry
// comes from the middleware wrapper around it.
func (m *Manager) pushOnce(ctx context.Context) error {
	m.mu.Lock()
	snapshot := m.doc
	gen := m.gen
	m.mu.Unlock()

	err := resilience.ExecuteWithTimeout(ctx, m.pushTimeout, func(ctx context.Context) error {
		return m.backend.UpdatePreferences(ctx, snapshot)
	})
	if err != nil {
		m.noteOffline(err)
		return err
	}

	m.mu.Lock()
	m.assumeOffline = false
	if m.gen == gen {
		// Nothing changed while the request was in flight.
		m.pending = make(map[string]struct{})
		m.dirty = false
	}
	m.lastSync = time.Now()
	m.mu.Unlock()

	m.persistMetadata(ctx)
	return nil
}

// noteSyncError logs a network failure and records the connectivity hint.
func (m *Manager) noteSyncError(ctx context.Context, msg string, err error) {
	m.noteOffline(err)
	m.logger.Warn(ctx, msg, observe.Field{Key: "error", Value: err.Error()})
}

// noteOffline flips the connectivity assumption when an error looks like a
// dead network, so further syncs wait for the online transition.
func (m *Manager) noteOffline(err error) {
	if api.IsOffline(err) {
		m.mu.Lock()
		m.assumeOffline = true
		m.mu.Unlock()
	}
}

// onConnectivity reacts to watcher transitions: offline cancels the debounce
// timer without losing pending changes, online retries dirty state
// immediately.
func (m *Manager) onConnectivity(status netwatch.Status) {
	switch status {
	case netwatch.StatusOffline:
		m.mu.Lock()
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		m.mu.Unlock()

	case netwatch.StatusOnline:
		m.mu.Lock()
		m.assumeOffline = false
		dirty := m.dirty
		m.mu.Unlock()
		if dirty {
			go m.syncBackground()
		}
	}
}

func (m *Manager) online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onlineLocked()
}

// onlineLocked treats an unknown watcher status as online; only a confirmed
// offline blocks syncing. Caller holds m.mu.
func (m *Manager) onlineLocked() bool {
	if m.assumeOffline {
		return false
	}
	if m.net == nil {
		return true
	}
	return m.net.Status() != netwatch.StatusOffline
}

func (m *Manager) persist(ctx context.Context, doc Document) {
	if err := m.cache.Set(ctx, DocumentKey, doc, cache.TierPersistent, 0); err != nil {
		m.logger.Warn(ctx, "failed to persist preference document",
			observe.Field{Key: "error", Value: err.Error()})
	}
}

func (m *Manager) persistMetadata(ctx context.Context) {
	m.mu.Lock()
	meta := syncMetadata{IsDirty: m.dirty}
	if !m.lastSync.IsZero() {
		meta.LastSync = m.lastSync.UnixMilli()
	}
	m.mu.Unlock()

	if err := m.cache.Set(ctx, MetadataKey, meta, cache.TierPersistent, 0); err != nil {
		m.logger.Warn(ctx, "failed to persist sync metadata",
			observe.Field{Key: "error", Value: err.Error()})
	}
}
