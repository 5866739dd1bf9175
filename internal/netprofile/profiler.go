package netprofile

import (
	"log/slog"
	"sync"
)

// Profiler reads network and device signals. Device information is computed
// once and reused for the life of the profiler.
type Profiler struct {
	conn   ConnectionSource
	device DeviceSource
	logger *slog.Logger

	once       sync.Once
	deviceInfo DeviceInfo
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithLogger sets the profiler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Profiler) { p.logger = logger }
}

// NewProfiler creates a profiler. Nil sources fall back to NoConnection and a
// desktop device with unknown capability.
func NewProfiler(conn ConnectionSource, device DeviceSource, opts ...Option) *Profiler {
	if conn == nil {
		conn = NoConnection{}
	}
	if device == nil {
		device = StaticDeviceSource{Type: DeviceDesktop, Screen: ScreenLarge}
	}
	p := &Profiler{
		conn:   conn,
		device: device,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetNetworkInfo returns the current network classification. It never fails;
// without connection signals it returns FallbackNetworkInfo.
func (p *Profiler) GetNetworkInfo() NetworkInfo {
	c, ok := p.conn.Connection()
	if !ok {
		return FallbackNetworkInfo()
	}
	return NetworkInfo{
		EffectiveType: c.EffectiveType,
		DownlinkMbps:  c.DownlinkMbps,
		RTTMillis:     c.RTTMillis,
		SaveData:      c.SaveData,
		Quality:       DeriveQuality(c.EffectiveType, c.DownlinkMbps, c.RTTMillis, c.SaveData),
	}
}

// GetDeviceInfo returns the device classification, computed on first use.
func (p *Profiler) GetDeviceInfo() DeviceInfo {
	p.once.Do(func() {
		p.deviceInfo = NewDeviceInfo(p.device.Device())
		p.logger.Debug("device profiled",
			slog.String("type", string(p.deviceInfo.Type)),
			slog.Int("cores", p.deviceInfo.CoreCount),
			slog.Bool("good_performance", p.deviceInfo.HasGoodPerformance),
		)
	})
	return p.deviceInfo
}

// WatchNetworkChanges invokes cb with fresh NetworkInfo on every connection
// change event. The returned func unsubscribes and is safe to call repeatedly.
func (p *Profiler) WatchNetworkChanges(cb func(NetworkInfo)) func() {
	return p.conn.Subscribe(func() {
		cb(p.GetNetworkInfo())
	})
}
