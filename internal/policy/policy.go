// Package policy derives streaming parameters from the network and device
// classification.
package policy

import (
	"log/slog"

	"github.com/jmylchreest/audiocast/internal/netprofile"
	"github.com/jmylchreest/audiocast/pkg/bytesize"
)

// PreloadMode is the media element preload hint.
type PreloadMode string

const (
	PreloadNone     PreloadMode = "none"
	PreloadMetadata PreloadMode = "metadata"
	PreloadAuto     PreloadMode = "auto"
)

// StreamingConfig is the set of streaming parameters for the current conditions.
type StreamingConfig struct {
	PreloadMode            PreloadMode `json:"preload_mode"`
	BufferSizeBytes        int64       `json:"buffer_size_bytes"`
	PrefetchEnabled        bool        `json:"prefetch_enabled"`
	CacheEnabled           bool        `json:"cache_enabled"`
	ChunkSizeBytes         int64       `json:"chunk_size_bytes"`
	MaxConcurrentDownloads int         `json:"max_concurrent_downloads"`
	UseCompression         bool        `json:"use_compression"`
}

// Derive returns the streaming config for the given conditions. Rules are
// evaluated in order and the first match wins.
func Derive(quality netprofile.NetworkQuality, device netprofile.DeviceType, saveData bool) StreamingConfig {
	const (
		kb = int64(bytesize.KB)
		mb = int64(bytesize.MB)
	)

	switch {
	case quality == netprofile.QualityPoor || saveData:
		return StreamingConfig{
			PreloadMode: PreloadMetadata, BufferSizeBytes: 1 * mb, ChunkSizeBytes: 64 * kb,
			MaxConcurrentDownloads: 1, UseCompression: true, CacheEnabled: true,
		}
	case device == netprofile.DeviceMobile && quality == netprofile.QualityModerate:
		return StreamingConfig{
			PreloadMode: PreloadMetadata, BufferSizeBytes: 2 * mb, ChunkSizeBytes: 128 * kb,
			MaxConcurrentDownloads: 2, UseCompression: true, CacheEnabled: true,
		}
	case device == netprofile.DeviceMobile && quality == netprofile.QualityGood:
		return StreamingConfig{
			PreloadMode: PreloadAuto, BufferSizeBytes: 3 * mb, ChunkSizeBytes: 256 * kb,
			PrefetchEnabled: true, MaxConcurrentDownloads: 3, CacheEnabled: true,
		}
	case device == netprofile.DeviceDesktop && quality == netprofile.QualityGood:
		return StreamingConfig{
			PreloadMode: PreloadAuto, BufferSizeBytes: 5 * mb, ChunkSizeBytes: 512 * kb,
			PrefetchEnabled: true, MaxConcurrentDownloads: 4, CacheEnabled: true,
		}
	case device == netprofile.DeviceDesktop && quality == netprofile.QualityExcellent:
		return StreamingConfig{
			PreloadMode: PreloadAuto, BufferSizeBytes: 10 * mb, ChunkSizeBytes: 1 * mb,
			PrefetchEnabled: true, MaxConcurrentDownloads: 6, CacheEnabled: true,
		}
	case device == netprofile.DeviceTablet:
		return StreamingConfig{
			PreloadMode: PreloadAuto, BufferSizeBytes: 4 * mb, ChunkSizeBytes: 256 * kb,
			PrefetchEnabled: true, MaxConcurrentDownloads: 3, CacheEnabled: true,
			UseCompression: quality != netprofile.QualityExcellent,
		}
	default:
		return StreamingConfig{
			PreloadMode: PreloadMetadata, BufferSizeBytes: 3 * mb, ChunkSizeBytes: 512 * kb,
			MaxConcurrentDownloads: 2, UseCompression: true, CacheEnabled: true,
		}
	}
}

// Buffer size bounds.
const (
	baseBufferSize = 2 * bytesize.MB
	MinBufferSize  = 512 * bytesize.KB
	MaxBufferSize  = 20 * bytesize.MB
)

var qualityBufferFactor = map[netprofile.NetworkQuality]float64{
	netprofile.QualityPoor:      0.5,
	netprofile.QualityModerate:  1,
	netprofile.QualityGood:      2,
	netprofile.QualityExcellent: 4,
}

var deviceBufferFactor = map[netprofile.DeviceType]float64{
	netprofile.DeviceMobile:  0.75,
	netprofile.DeviceTablet:  1.25,
	netprofile.DeviceDesktop: 1.5,
	netprofile.DeviceTV:      1.5,
}

// OptimalBufferSize scales a 2 MB base by quality, device class and known
// memory, clamped to [MinBufferSize, MaxBufferSize].
func OptimalBufferSize(quality netprofile.NetworkQuality, device netprofile.DeviceInfo) int64 {
	size := float64(baseBufferSize)

	if f, ok := qualityBufferFactor[quality]; ok {
		size *= f
	}
	if f, ok := deviceBufferFactor[device.Type]; ok {
		size *= f
	}
	if device.MemoryGiB != nil {
		switch {
		case *device.MemoryGiB < 2:
			size *= 0.5
		case *device.MemoryGiB > 8:
			size *= 1.5
		}
	}

	return min(max(int64(size), int64(MinBufferSize)), int64(MaxBufferSize))
}

// ShouldEnablePrefetch reports whether the next stream should be warmed.
func ShouldEnablePrefetch(info netprofile.NetworkInfo, device netprofile.DeviceInfo) bool {
	if info.SaveData || info.Quality == netprofile.QualityPoor {
		return false
	}
	if device.Type == netprofile.DeviceMobile {
		return info.Quality == netprofile.QualityGood || info.Quality == netprofile.QualityExcellent
	}
	return true
}

// RecommendedPreload returns the preload mode for the current playback state.
// An active stream is never starved.
func RecommendedPreload(isPlaying bool, info netprofile.NetworkInfo, device netprofile.DeviceInfo) PreloadMode {
	switch {
	case isPlaying:
		return PreloadAuto
	case info.SaveData:
		return PreloadNone
	case info.Quality == netprofile.QualityPoor:
		return PreloadMetadata
	case device.Type == netprofile.DeviceMobile && info.Quality == netprofile.QualityModerate:
		return PreloadMetadata
	default:
		return PreloadAuto
	}
}

// Profile supplies current network and device information.
type Profile interface {
	GetNetworkInfo() netprofile.NetworkInfo
	GetDeviceInfo() netprofile.DeviceInfo
}

// Policy binds the decision table to a live profile.
type Policy struct {
	profile Profile
	logger  *slog.Logger
}

// New creates a policy reading from profile.
func New(profile Profile, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{profile: profile, logger: logger}
}

// OptimalStreamingConfig derives the config for the current conditions.
func (p *Policy) OptimalStreamingConfig() StreamingConfig {
	info := p.profile.GetNetworkInfo()
	device := p.profile.GetDeviceInfo()
	cfg := Derive(info.Quality, device.Type, info.SaveData)

	p.logger.Debug("streaming config derived",
		slog.String("quality", string(info.Quality)),
		slog.String("device", string(device.Type)),
		slog.Bool("save_data", info.SaveData),
		slog.String("preload", string(cfg.PreloadMode)),
		slog.Int64("buffer_bytes", cfg.BufferSizeBytes),
	)
	return cfg
}

// OptimalBufferSize applies the buffer helper to the current conditions.
func (p *Policy) OptimalBufferSize() int64 {
	return OptimalBufferSize(p.profile.GetNetworkInfo().Quality, p.profile.GetDeviceInfo())
}

// ShouldEnablePrefetch applies the prefetch rule to the current conditions.
func (p *Policy) ShouldEnablePrefetch() bool {
	return ShouldEnablePrefetch(p.profile.GetNetworkInfo(), p.profile.GetDeviceInfo())
}

// RecommendedPreload applies the preload rule to the current conditions.
func (p *Policy) RecommendedPreload(isPlaying bool) PreloadMode {
	return RecommendedPreload(isPlaying, p.profile.GetNetworkInfo(), p.profile.GetDeviceInfo())
}

// Profile returns the bound profile.
func (p *Policy) Profile() Profile {
	return p.profile
}
