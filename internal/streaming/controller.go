// Package streaming implements the adaptive streaming controller: it fetches
// and caches signed media URLs, renews them ahead of expiry, and reacts to
// network changes and playback stalls on an attached media element.
package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmylchreest/audiocast/internal/clock"
	"github.com/jmylchreest/audiocast/internal/mediaapi"
	"github.com/jmylchreest/audiocast/internal/netprofile"
	"github.com/jmylchreest/audiocast/internal/observability"
	"github.com/jmylchreest/audiocast/internal/playback"
	"github.com/jmylchreest/audiocast/internal/policy"
	"github.com/jmylchreest/audiocast/internal/prefetch"
	"github.com/jmylchreest/audiocast/internal/speed"
	"github.com/jmylchreest/audiocast/internal/urlcache"
)

// Renewal margins by network quality.
const (
	RenewalMarginPoor      = 5 * time.Minute
	RenewalMarginExcellent = 1 * time.Minute
	RenewalMarginDefault   = 2 * time.Minute

	// MinRenewalDelay is the floor applied to renewal delays so an already
	// expiring URL never renews synchronously.
	MinRenewalDelay = 1 * time.Second

	// StallRecoveryDelay is how long a stalled element may stay paused before
	// a single reload is attempted.
	StallRecoveryDelay = 2 * time.Second
)

// Status is the controller lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusFetching Status = "fetching"
	StatusReady    Status = "ready"
	StatusRenewing Status = "renewing"
	StatusFailed   Status = "failed"
)

// State is the snapshot exposed to the playback UI.
type State struct {
	ContentID         string                    `json:"content_id"`
	URL               string                    `json:"url,omitempty"`
	ExpiresAt         time.Time                 `json:"expires_at,omitzero"`
	IsLoading         bool                      `json:"is_loading"`
	Error             string                    `json:"error,omitempty"`
	Buffering         bool                      `json:"buffering"`
	Status            Status                    `json:"status"`
	Degraded          bool                      `json:"degraded"`
	NetworkQuality    netprofile.NetworkQuality `json:"network_quality"`
	DeviceType        netprofile.DeviceType     `json:"device_type"`
	Config            policy.StreamingConfig    `json:"config"`
	DownloadSpeedMbps float64                   `json:"download_speed_mbps"`
}

// Profile is the network and device view the controller adapts to.
type Profile interface {
	policy.Profile
	WatchNetworkChanges(cb func(netprofile.NetworkInfo)) func()
}

// Options holds the collaborators of a Controller. Profile and URLs are
// required.
type Options struct {
	Profile Profile
	URLs    mediaapi.URLSource
	// Cache is shared by every controller of a session. Nil disables caching.
	Cache *urlcache.Cache
	// Hints receives prefetch hints. Nil records them in memory only.
	Hints   prefetch.HintSink
	Monitor *speed.Monitor
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Controller manages streaming for one content id. All methods are safe for
// concurrent use.
type Controller struct {
	id        string
	contentID string
	urls      mediaapi.URLSource
	cache     *urlcache.Cache
	profile   Profile
	policy    *policy.Policy
	prefetch  *prefetch.Manager
	monitor   *speed.Monitor
	clock     clock.Clock
	logger    *slog.Logger

	mu          sync.Mutex
	state       State
	inflight    int
	closed      bool
	renewal     clock.Timer
	attachment  *attachment
	unwatch     func()
	subscribers map[int]func(State)
	nextSubID   int
}

// New creates an idle controller for contentID and starts watching network
// changes. Call Close to release it.
func New(contentID string, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Monitor == nil {
		opts.Monitor = speed.NewMonitor()
	}
	if opts.Hints == nil {
		opts.Hints = prefetch.NewRecorder()
	}

	id := uuid.NewString()
	logger := observability.WithContentID(
		observability.WithComponent(opts.Logger, "streaming"), contentID,
	).With(slog.String("controller_id", id))

	c := &Controller{
		id:          id,
		contentID:   contentID,
		urls:        opts.URLs,
		cache:       opts.Cache,
		profile:     opts.Profile,
		policy:      policy.New(opts.Profile, logger),
		prefetch:    prefetch.NewManager(opts.Hints, opts.Profile, logger),
		monitor:     opts.Monitor,
		clock:       opts.Clock,
		logger:      logger,
		subscribers: make(map[int]func(State)),
	}

	info := opts.Profile.GetNetworkInfo()
	c.state = State{
		ContentID:      contentID,
		Status:         StatusIdle,
		NetworkQuality: info.Quality,
		DeviceType:     opts.Profile.GetDeviceInfo().Type,
		Config:         c.policy.OptimalStreamingConfig(),
	}
	c.unwatch = opts.Profile.WatchNetworkChanges(c.onNetworkChange)
	return c
}

// ID returns the unique id of this controller instance.
func (c *Controller) ID() string { return c.id }

// ContentID returns the content the controller streams.
func (c *Controller) ContentID() string { return c.contentID }

// State returns a snapshot of the exposed state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for state updates and returns an idempotent
// unsubscribe. fn is called outside the controller lock.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
		})
	}
}

// FetchStreamingURL makes a signed URL available. Unless forceRefresh is set
// a fresh cached URL is used without calling the API. Failures move the
// controller to failed and are reflected in State().Error; the error is also
// returned. There is no automatic retry.
func (c *Controller) FetchStreamingURL(ctx context.Context, forceRefresh bool) (err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if !forceRefresh && c.state.Config.CacheEnabled && c.cache != nil {
		c.mu.Unlock()
		entry, ok := c.cache.Get(ctx, c.contentID)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		if ok {
			c.applyURLLocked(entry.URL, entry.ExpiresAt)
			c.logger.DebugContext(ctx, "signed url served from cache",
				slog.Time("expires_at", entry.ExpiresAt),
			)
			snapshot, subs := c.snapshotLocked()
			c.mu.Unlock()
			c.maybePrefetch(entry.URL)
			notify(subs, snapshot)
			return nil
		}
	}

	if c.state.URL != "" && c.state.Status != StatusFailed {
		c.state.Status = StatusRenewing
	} else {
		c.state.Status = StatusFetching
	}
	c.inflight++
	c.state.IsLoading = true
	c.state.Error = ""
	snapshot, subs := c.snapshotLocked()
	c.mu.Unlock()
	notify(subs, snapshot)

	done := observability.TimedOperationWithError(ctx, c.logger, "fetch_signed_url", &err)
	defer done()

	signed, err := c.urls.GetSignedURL(ctx, c.contentID)
	now := c.clock.Now()

	c.mu.Lock()
	c.inflight--
	c.state.IsLoading = c.inflight > 0
	if c.closed {
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "ignoring signed url result after close")
		return ErrClosed
	}

	if err != nil {
		c.state.Status = StatusFailed
		c.state.Error = UserMessage(err)
		snapshot, subs = c.snapshotLocked()
		c.mu.Unlock()
		notify(subs, snapshot)
		return fmt.Errorf("fetching signed url for %s: %w", c.contentID, err)
	}

	expiresAt := now.Add(signed.ExpiresIn)
	c.applyURLLocked(signed.URL, expiresAt)
	snapshot, subs = c.snapshotLocked()
	c.mu.Unlock()

	if c.cache != nil {
		c.cache.Set(ctx, c.contentID, signed.URL, expiresAt)
	}

	c.maybePrefetch(signed.URL)
	notify(subs, snapshot)
	return nil
}

// Refresh forces a new signed URL from the API.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.FetchStreamingURL(ctx, true)
}

// PreloadMode returns the preload mode recommended for the attached element.
func (c *Controller) PreloadMode() policy.PreloadMode {
	c.mu.Lock()
	playing := c.attachment != nil && !c.attachment.el.Paused()
	c.mu.Unlock()
	return c.policy.RecommendedPreload(playing)
}

// PrefetchHint returns the outstanding prefetch hint.
func (c *Controller) PrefetchHint() (prefetch.Hint, bool) {
	return c.prefetch.Current()
}

// RenewalPending reports whether a renewal timer is scheduled.
func (c *Controller) RenewalPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renewal != nil
}

// Close cancels the renewal timer, removes the prefetch hint and releases the
// attached element. Results of fetches still in flight are discarded. Close
// is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelRenewalLocked()
	att := c.attachment
	c.attachment = nil
	unwatch := c.unwatch
	c.unwatch = nil
	c.subscribers = make(map[int]func(State))
	c.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if att != nil {
		att.release()
	}
	c.prefetch.Close()
	c.logger.Debug("streaming controller closed")
}

// applyURLLocked moves to ready with url and schedules its renewal.
func (c *Controller) applyURLLocked(url string, expiresAt time.Time) {
	c.state.URL = url
	c.state.ExpiresAt = expiresAt
	c.state.Status = StatusReady
	c.state.Error = ""
	c.scheduleRenewalLocked(expiresAt.Sub(c.clock.Now()))

	if c.attachment != nil {
		c.attachment.el.SetSource(url)
	}
}

func (c *Controller) scheduleRenewalLocked(expiresIn time.Duration) {
	c.cancelRenewalLocked()

	delay := RenewalDelay(expiresIn, c.state.NetworkQuality)
	var t clock.Timer
	t = c.clock.AfterFunc(delay, func() { c.renew(t) })
	c.renewal = t

	c.logger.Debug("signed url renewal scheduled",
		slog.Duration("delay", delay),
		slog.String("quality", string(c.state.NetworkQuality)),
	)
}

func (c *Controller) cancelRenewalLocked() {
	if c.renewal != nil {
		c.renewal.Stop()
		c.renewal = nil
	}
}

func (c *Controller) renew(t clock.Timer) {
	c.mu.Lock()
	if c.closed || c.renewal != t {
		c.mu.Unlock()
		return
	}
	c.renewal = nil
	c.mu.Unlock()

	c.logger.Info("renewing signed url")
	if err := c.FetchStreamingURL(context.Background(), true); err != nil {
		c.logger.Warn("signed url renewal failed", slog.String("error", err.Error()))
	}
}

func (c *Controller) maybePrefetch(url string) {
	if !c.policy.ShouldEnablePrefetch() {
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.prefetch.Prefetch(url)
}

func (c *Controller) onNetworkChange(info netprofile.NetworkInfo) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	cfg := policy.Derive(info.Quality, c.state.DeviceType, info.SaveData)
	prev := c.state.NetworkQuality
	c.state.NetworkQuality = info.Quality
	c.state.Config = cfg

	switch {
	case info.Quality == netprofile.QualityPoor && prev != netprofile.QualityPoor && c.state.Status == StatusReady:
		c.state.Degraded = true
		c.logger.Warn("network degraded to poor during playback",
			slog.String("previous_quality", string(prev)),
			slog.String("effective_type", info.EffectiveType),
		)
	case info.Quality != netprofile.QualityPoor:
		c.state.Degraded = false
	}

	var el playback.Element
	if c.attachment != nil {
		el = c.attachment.el
	}
	snapshot, subs := c.snapshotLocked()
	c.mu.Unlock()

	if el != nil {
		el.SetPreload(c.policy.RecommendedPreload(!el.Paused()))
		if sizer, ok := el.(playback.ChunkSizer); ok {
			sizer.SetChunkSize(cfg.ChunkSizeBytes)
		}
	}
	notify(subs, snapshot)
}

// snapshotLocked copies the state and the subscriber set for notification
// outside the lock.
func (c *Controller) snapshotLocked() (State, []func(State)) {
	subs := make([]func(State), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	return c.state, subs
}

func notify(subs []func(State), s State) {
	for _, fn := range subs {
		fn(s)
	}
}

// RenewalMargin returns how long before expiry a URL is renewed.
func RenewalMargin(q netprofile.NetworkQuality) time.Duration {
	switch q {
	case netprofile.QualityPoor:
		return RenewalMarginPoor
	case netprofile.QualityExcellent:
		return RenewalMarginExcellent
	default:
		return RenewalMarginDefault
	}
}

// RenewalDelay returns the timer delay for a URL valid for expiresIn,
// never less than MinRenewalDelay.
func RenewalDelay(expiresIn time.Duration, q netprofile.NetworkQuality) time.Duration {
	return max(expiresIn-RenewalMargin(q), MinRenewalDelay)
}
