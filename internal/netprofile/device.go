package netprofile

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// DeviceType is the coarse device classification.
type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
	DeviceTV      DeviceType = "tv"
)

// ScreenSize is the screen size class.
type ScreenSize string

const (
	ScreenSmall  ScreenSize = "small"
	ScreenMedium ScreenSize = "medium"
	ScreenLarge  ScreenSize = "large"
)

const (
	goodPerfMinMemoryGiB = 4
	goodPerfMinCores     = 4
	hostProbeTimeout     = 2 * time.Second
	bytesPerGiB          = 1 << 30
)

// DeviceSignals are the static device signals read from the platform.
// MemoryGiB is nil when the platform does not report memory.
type DeviceSignals struct {
	Type      DeviceType
	Touch     bool
	Screen    ScreenSize
	MemoryGiB *float64
	Cores     int
}

// DeviceInfo is the device classification used by the streaming policy.
type DeviceInfo struct {
	Type               DeviceType `json:"type"`
	IsTouch            bool       `json:"is_touch"`
	ScreenSize         ScreenSize `json:"screen_size"`
	MemoryGiB          *float64   `json:"memory_gib,omitempty"`
	CoreCount          int        `json:"core_count"`
	HasGoodPerformance bool       `json:"has_good_performance"`
}

// HasGoodPerformance requires all of: a non-mobile device or one with at
// least 4 GiB of memory, at least 4 cores, and a screen that is not small.
// Unknown memory on a mobile device fails the memory check.
func HasGoodPerformance(s DeviceSignals) bool {
	memoryOK := s.Type != DeviceMobile || (s.MemoryGiB != nil && *s.MemoryGiB >= goodPerfMinMemoryGiB)
	return memoryOK && s.Cores >= goodPerfMinCores && s.Screen != ScreenSmall
}

// NewDeviceInfo classifies s.
func NewDeviceInfo(s DeviceSignals) DeviceInfo {
	if s.Type == "" {
		s.Type = DeviceDesktop
	}
	if s.Screen == "" {
		s.Screen = ScreenLarge
	}
	return DeviceInfo{
		Type:               s.Type,
		IsTouch:            s.Touch,
		ScreenSize:         s.Screen,
		MemoryGiB:          s.MemoryGiB,
		CoreCount:          s.Cores,
		HasGoodPerformance: HasGoodPerformance(s),
	}
}

// DeviceSource supplies static device signals.
type DeviceSource interface {
	Device() DeviceSignals
}

// StaticDeviceSource returns fixed signals.
type StaticDeviceSource DeviceSignals

// Device returns the fixed signals.
func (s StaticDeviceSource) Device() DeviceSignals { return DeviceSignals(s) }

// HostDeviceSource reads memory and logical core count from the host.
// Form factor, touch and screen size cannot be detected headless and come from
// the embedded signals, as do memory and cores when the probe fails.
type HostDeviceSource struct {
	Base   DeviceSignals
	Logger *slog.Logger
}

// Device probes the host, falling back to Base on any failure.
func (h HostDeviceSource) Device() DeviceSignals {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(context.Background(), hostProbeTimeout)
	defer cancel()

	s := h.Base
	if s.MemoryGiB == nil {
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
			gib := float64(vm.Total) / bytesPerGiB
			s.MemoryGiB = &gib
		} else if err != nil {
			logger.Debug("host memory probe failed", slog.String("error", err.Error()))
		}
	}
	if s.Cores == 0 {
		if n, err := cpu.CountsWithContext(ctx, true); err == nil {
			s.Cores = n
		} else {
			logger.Debug("host cpu probe failed", slog.String("error", err.Error()))
		}
	}
	return s
}

// MemoryGiB is a helper for building DeviceSignals literals.
func MemoryGiB(v float64) *float64 { return &v }
