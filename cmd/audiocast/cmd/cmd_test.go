package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jmylchreest/audiocast/internal/config"
	"github.com/jmylchreest/audiocast/internal/netprofile"
	"github.com/jmylchreest/audiocast/internal/streaming"
	"github.com/jmylchreest/audiocast/internal/urlcache"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return cfg
}

func TestNewCacheStore(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		check   func(t *testing.T, store urlcache.BlobStore)
	}{
		{"memory", "memory", func(t *testing.T, store urlcache.BlobStore) {
			assert.IsType(t, &urlcache.MemoryStore{}, store)
		}},
		{"disk", "disk", func(t *testing.T, store urlcache.BlobStore) {
			assert.IsType(t, &urlcache.DiskStore{}, store)
		}},
		{"database", "database", func(t *testing.T, store urlcache.BlobStore) {
			assert.IsType(t, &urlcache.DBStore{}, store)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			cfg.Storage.CacheBackend = tt.backend
			cfg.Storage.BaseDir = t.TempDir()
			cfg.Database.DSN = ":memory:"

			store, db, err := newCacheStore(context.Background(), cfg, slog.Default())
			require.NoError(t, err)
			if db != nil {
				t.Cleanup(func() { _ = db.Close() })
			}
			tt.check(t, store)

			ctx := context.Background()
			require.NoError(t, store.Save(ctx, "k", []byte("v")))
			got, err := store.Load(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)
		})
	}
}

func TestNewConnection(t *testing.T) {
	unavailable := newConnection(config.NetworkConfig{Available: false, EffectiveType: "3g"})
	_, ok := unavailable.Connection()
	assert.False(t, ok)

	seeded := newConnection(config.NetworkConfig{Available: true, EffectiveType: "3g", DownlinkMbps: 1.5, RTTMillis: 300})
	conn, ok := seeded.Connection()
	require.True(t, ok)
	assert.Equal(t, netprofile.Connection{EffectiveType: "3g", DownlinkMbps: 1.5, RTTMillis: 300}, conn)
}

func TestNewDeviceSource(t *testing.T) {
	src := newDeviceSource(config.DeviceConfig{FormFactor: "tv", ScreenSize: "large", MemoryGiB: 2, Cores: 4}, nil)
	require.IsType(t, netprofile.StaticDeviceSource{}, src)

	s := src.Device()
	assert.Equal(t, netprofile.DeviceTV, s.Type)
	require.NotNil(t, s.MemoryGiB)
	assert.InDelta(t, 2.0, *s.MemoryGiB, 0.001)
	assert.Equal(t, 4, s.Cores)

	host := newDeviceSource(config.DeviceConfig{FormFactor: "desktop", ScreenSize: "large", DetectHost: true, Cores: 2}, nil)
	require.IsType(t, netprofile.HostDeviceSource{}, host)
	assert.Equal(t, 2, host.Device().Cores)
}

func TestDumpConfig(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.MediaAPI.AccessToken = "secret-token"

	var buf bytes.Buffer
	require.NoError(t, dumpConfig(&buf, cfg))
	assert.NotContains(t, buf.String(), "secret-token")

	var parsed map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "15s", parsed["media_api"]["timeout"])
	assert.Equal(t, "********", parsed["media_api"]["access_token"])
	assert.Equal(t, 8080, parsed["server"]["port"])
	assert.Equal(t, cfg.Prefetch.WarmBytes.String(), parsed["prefetch"]["warm_bytes"])
	assert.Equal(t, "disk", parsed["storage"]["cache_backend"])
}

func TestPrintProfile(t *testing.T) {
	conn := netprofile.NewManualConnection(netprofile.Connection{EffectiveType: "2g", DownlinkMbps: 0.2, RTTMillis: 1500})
	profiler := netprofile.NewProfiler(conn, netprofile.StaticDeviceSource{Type: netprofile.DeviceMobile, Screen: netprofile.ScreenSmall})

	var buf bytes.Buffer
	require.NoError(t, printProfile(&buf, profiler, false))
	out := buf.String()
	assert.Contains(t, out, "Network:   poor (2g, 200 kbps down, 1,500 ms rtt")
	assert.Contains(t, out, "Device:    mobile")
	assert.Contains(t, out, "Preload:   metadata")
	assert.Contains(t, out, "(65,536 bytes)")
	assert.Contains(t, out, "Prefetch:  false")
}

func TestStateReporter(t *testing.T) {
	var buf bytes.Buffer
	r := &stateReporter{w: &buf}
	now := time.Now()

	r.report(streaming.State{Status: streaming.StatusFetching})
	r.report(streaming.State{Status: streaming.StatusReady, ExpiresAt: now.Add(time.Hour)})
	r.report(streaming.State{Status: streaming.StatusReady, ExpiresAt: now.Add(time.Hour), Buffering: true})
	r.report(streaming.State{Status: streaming.StatusReady, ExpiresAt: now.Add(time.Hour)})
	r.report(streaming.State{Status: streaming.StatusReady, ExpiresAt: now.Add(time.Hour)})
	r.report(streaming.State{Status: streaming.StatusFailed, Error: "This audiobook could not be found."})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 5)
	assert.Equal(t, "status: fetching", string(lines[0]))
	assert.Contains(t, string(lines[1]), "status: ready, url expires in ")
	assert.Equal(t, "buffering...", string(lines[2]))
	assert.Equal(t, "playing", string(lines[3]))
	assert.Equal(t, "status: failed: This audiobook could not be found.", string(lines[4]))
}

func TestNewApp_MemoryBackend(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Storage.CacheBackend = "memory"
	cfg.Device.DetectHost = false
	cfg.Prefetch.Enabled = false

	a, err := newApp(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.db)
	assert.Nil(t, a.warmer)
	assert.Equal(t, netprofile.FallbackNetworkInfo(), a.profiler.GetNetworkInfo())

	ctrl, created, err := a.sessions.Open("book-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "book-1", ctrl.ContentID())
}
