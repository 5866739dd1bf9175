// Package urlcache caches short-lived signed media URLs. Entries are held as
// a single map persisted as one blob, so a corrupt blob empties the whole
// cache instead of failing playback.
package urlcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/audiocast/internal/clock"
)

// SafetyMargin is how long before expiry an entry stops being served.
const SafetyMargin = 5 * time.Minute

// StorageKey is the blob key the cache map is persisted under.
const StorageKey = "audio_url_cache"

// Entry is a cached signed URL.
type Entry struct {
	ContentID string    `json:"content_id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	CachedAt  time.Time `json:"cached_at"`
}

// Fresh reports whether e can still be served at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt.Add(-SafetyMargin))
}

// Cache is a session-wide signed URL cache. It is safe for concurrent use.
type Cache struct {
	store  BlobStore
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	loaded  bool
	entries map[string]Entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cache *Cache) { cache.logger = logger }
}

// New creates a cache persisted to store. A nil store keeps entries in memory only.
func New(store BlobStore, opts ...Option) *Cache {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &Cache{
		store:  store,
		clock:  clock.Real{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the entry for contentID when it is outside the safety margin.
// Storage failures are treated as a miss.
func (c *Cache) Get(ctx context.Context, contentID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked(ctx)
	e, ok := c.entries[contentID]
	if !ok || !e.Fresh(c.clock.Now()) {
		return Entry{}, false
	}
	return e, true
}

// Set upserts the entry for contentID and persists the whole map.
// Persistence failures are logged and otherwise ignored.
func (c *Cache) Set(ctx context.Context, contentID, url string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked(ctx)
	c.entries[contentID] = Entry{
		ContentID: contentID,
		URL:       url,
		ExpiresAt: expiresAt,
		CachedAt:  c.clock.Now(),
	}
	c.persistLocked(ctx)
}

// Remove deletes the entry for contentID.
func (c *Cache) Remove(ctx context.Context, contentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked(ctx)
	if _, ok := c.entries[contentID]; !ok {
		return
	}
	delete(c.entries, contentID)
	c.persistLocked(ctx)
}

// Clear drops every entry and the persisted blob.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)
	c.loaded = true
	if err := c.store.Delete(ctx, StorageKey); err != nil && !errors.Is(err, ErrNotFound) {
		c.logger.WarnContext(ctx, "clearing url cache failed", slog.String("error", err.Error()))
	}
}

// Prune drops entries that are inside their safety margin and returns how
// many were removed.
func (c *Cache) Prune(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked(ctx)
	now := c.clock.Now()
	removed := 0
	for id, e := range c.entries {
		if !e.Fresh(now) {
			delete(c.entries, id)
			removed++
		}
	}
	if removed > 0 {
		c.persistLocked(ctx)
	}
	return removed
}

// Len returns the number of entries held, fresh or not.
func (c *Cache) Len(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadLocked(ctx)
	return len(c.entries)
}

func (c *Cache) loadLocked(ctx context.Context) {
	if c.loaded {
		return
	}
	c.loaded = true
	c.entries = make(map[string]Entry)

	data, err := c.store.Load(ctx, StorageKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.WarnContext(ctx, "reading url cache failed", slog.String("error", err.Error()))
		}
		return
	}

	var stored map[string]Entry
	if err := json.Unmarshal(data, &stored); err != nil {
		c.logger.WarnContext(ctx, "url cache is corrupt, starting empty", slog.String("error", err.Error()))
		return
	}
	for id, e := range stored {
		e.ContentID = id
		c.entries[id] = e
	}
}

func (c *Cache) persistLocked(ctx context.Context) {
	data, err := json.Marshal(c.entries)
	if err != nil {
		c.logger.WarnContext(ctx, "encoding url cache failed", slog.String("error", err.Error()))
		return
	}
	if err := c.store.Save(ctx, StorageKey, data); err != nil {
		c.logger.WarnContext(ctx, "persisting url cache failed", slog.String("error", err.Error()))
	}
}
