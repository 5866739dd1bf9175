// Package session owns the session-scoped streaming services: the shared
// signed URL cache and one streaming controller per content id.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/jmylchreest/audiocast/internal/clock"
	"github.com/jmylchreest/audiocast/internal/mediaapi"
	"github.com/jmylchreest/audiocast/internal/observability"
	"github.com/jmylchreest/audiocast/internal/prefetch"
	"github.com/jmylchreest/audiocast/internal/streaming"
	"github.com/jmylchreest/audiocast/internal/urlcache"
)

// ErrContentIDRequired is returned when a stream is opened without an id.
var ErrContentIDRequired = errors.New("content id is required")

// Config holds the session collaborators.
type Config struct {
	Profile streaming.Profile
	URLs    mediaapi.URLSource
	Cache   *urlcache.Cache
	Hints   prefetch.HintSink
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Service is the set of live streams of one signed-in session.
type Service struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	controllers map[string]*streaming.Controller
}

// New creates a session service. A nil cache gets an in-memory one.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Cache == nil {
		cfg.Cache = urlcache.New(nil, urlcache.WithClock(cfg.Clock), urlcache.WithLogger(cfg.Logger))
	}
	return &Service{
		cfg:         cfg,
		logger:      observability.WithComponent(cfg.Logger, "session"),
		controllers: make(map[string]*streaming.Controller),
	}
}

// Open returns the controller for contentID, creating it when needed.
// created reports whether a new controller was made.
func (s *Service) Open(contentID string) (ctrl *streaming.Controller, created bool, err error) {
	if contentID == "" {
		return nil, false, ErrContentIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ctrl, ok := s.controllers[contentID]; ok {
		return ctrl, false, nil
	}

	ctrl = streaming.New(contentID, streaming.Options{
		Profile: s.cfg.Profile,
		URLs:    s.cfg.URLs,
		Cache:   s.cfg.Cache,
		Hints:   s.cfg.Hints,
		Clock:   s.cfg.Clock,
		Logger:  s.cfg.Logger,
	})
	s.controllers[contentID] = ctrl
	s.logger.Debug("stream opened", slog.String("content_id", contentID), slog.String("controller_id", ctrl.ID()))
	return ctrl, true, nil
}

// Get returns the controller for contentID.
func (s *Service) Get(contentID string) (*streaming.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctrl, ok := s.controllers[contentID]
	return ctrl, ok
}

// CloseStream tears down the controller for contentID and reports whether one
// existed.
func (s *Service) CloseStream(contentID string) bool {
	s.mu.Lock()
	ctrl, ok := s.controllers[contentID]
	delete(s.controllers, contentID)
	s.mu.Unlock()

	if ok {
		ctrl.Close()
		s.logger.Debug("stream closed", slog.String("content_id", contentID))
	}
	return ok
}

// States returns the state of every open stream ordered by content id.
func (s *Service) States() []streaming.State {
	s.mu.Lock()
	ctrls := make([]*streaming.Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		ctrls = append(ctrls, c)
	}
	s.mu.Unlock()

	out := make([]streaming.State, 0, len(ctrls))
	for _, c := range ctrls {
		out = append(out, c.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentID < out[j].ContentID })
	return out
}

// Len returns the number of open streams.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.controllers)
}

// Cache returns the shared signed URL cache.
func (s *Service) Cache() *urlcache.Cache {
	return s.cfg.Cache
}

// PruneCache drops expired cache entries.
func (s *Service) PruneCache(ctx context.Context) int {
	return s.cfg.Cache.Prune(ctx)
}

// SignOut closes every stream and clears the URL cache. It returns the
// number of streams closed.
func (s *Service) SignOut(ctx context.Context) int {
	n := s.closeAll()
	s.cfg.Cache.Clear(ctx)
	s.logger.InfoContext(ctx, "session signed out", slog.Int("streams_closed", n))
	return n
}

// Close tears down every stream, keeping the cache for the next session.
func (s *Service) Close() {
	s.closeAll()
}

func (s *Service) closeAll() int {
	s.mu.Lock()
	ctrls := s.controllers
	s.controllers = make(map[string]*streaming.Controller)
	s.mu.Unlock()

	for _, c := range ctrls {
		c.Close()
	}
	return len(ctrls)
}
