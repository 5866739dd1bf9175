package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/audiocast/internal/config"
	"github.com/jmylchreest/audiocast/internal/database"
	"github.com/jmylchreest/audiocast/internal/mediaapi"
	"github.com/jmylchreest/audiocast/internal/netprofile"
	"github.com/jmylchreest/audiocast/internal/observability"
	"github.com/jmylchreest/audiocast/internal/prefetch"
	"github.com/jmylchreest/audiocast/internal/session"
	"github.com/jmylchreest/audiocast/internal/urlcache"
	"github.com/jmylchreest/audiocast/internal/version"
	"github.com/jmylchreest/audiocast/pkg/httpclient"
)

// app holds the long-lived services shared by serve and play.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *database.DB
	conn     *netprofile.ManualConnection
	profiler *netprofile.Profiler
	media    *mediaapi.Client
	cdn      *httpclient.Client
	warmer   *prefetch.Warmer
	sessions *session.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{cfg: cfg, logger: logger}

	store, db, err := newCacheStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.db = db

	a.conn = newConnection(cfg.Network)
	a.profiler = netprofile.NewProfiler(a.conn, newDeviceSource(cfg.Device, logger),
		netprofile.WithLogger(observability.WithComponent(logger, "netprofile")))
	a.media = mediaapi.New(cfg.MediaAPI, nil, observability.WithComponent(logger, "mediaapi"))
	a.cdn = newCDNClient(logger)

	var hints prefetch.HintSink = prefetch.NewRecorder()
	if cfg.Prefetch.Enabled {
		a.warmer = prefetch.NewWarmer(a.cdn, cfg.Prefetch.WarmBytes.Bytes(), observability.WithComponent(logger, "prefetch"))
		hints = a.warmer
	}

	cache := urlcache.New(store, urlcache.WithLogger(observability.WithComponent(logger, "urlcache")))
	a.sessions = session.New(session.Config{
		Profile: a.profiler,
		URLs:    a.media,
		Cache:   cache,
		Hints:   hints,
		Logger:  logger,
	})

	return a, nil
}

// Close tears down streams, waits for warm-ups and closes the database.
func (a *app) Close() {
	a.sessions.Close()
	if a.warmer != nil {
		a.warmer.Wait()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}
}

func newCacheStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (urlcache.BlobStore, *database.DB, error) {
	switch cfg.Storage.CacheBackend {
	case "memory":
		return urlcache.NewMemoryStore(), nil, nil
	case "database":
		db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		return urlcache.NewDBStore(db.DB), db, nil
	default:
		store, err := urlcache.NewDiskStore(cfg.Storage.CachePath(), uint64(max(cfg.Storage.CacheMemory.Bytes(), 0))) //nolint:gosec // clamped above
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

// newConnection seeds the manual connection source. Without configured
// signals it stays unavailable until the control API reports some.
func newConnection(cfg config.NetworkConfig) *netprofile.ManualConnection {
	conn := &netprofile.ManualConnection{}
	if cfg.Available {
		conn.Set(netprofile.Connection{
			EffectiveType: cfg.EffectiveType,
			DownlinkMbps:  cfg.DownlinkMbps,
			RTTMillis:     cfg.RTTMillis,
			SaveData:      cfg.SaveData,
		})
	}
	return conn
}

func newDeviceSource(cfg config.DeviceConfig, logger *slog.Logger) netprofile.DeviceSource {
	base := netprofile.DeviceSignals{
		Type:   netprofile.DeviceType(cfg.FormFactor),
		Touch:  cfg.Touch,
		Screen: netprofile.ScreenSize(cfg.ScreenSize),
		Cores:  cfg.Cores,
	}
	if cfg.MemoryGiB > 0 {
		base.MemoryGiB = netprofile.MemoryGiB(cfg.MemoryGiB)
	}
	if cfg.DetectHost {
		return netprofile.HostDeviceSource{Base: base, Logger: logger}
	}
	return netprofile.StaticDeviceSource(base)
}

// newCDNClient builds the client used for media bytes. Media downloads are
// long-lived so the per-attempt timeout is disabled.
func newCDNClient(logger *slog.Logger) *httpclient.Client {
	hc := httpclient.DefaultConfig()
	hc.Timeout = 0
	hc.UserAgent = version.UserAgent()
	hc.Logger = observability.WithComponent(logger, "cdn")
	return httpclient.New(hc)
}
