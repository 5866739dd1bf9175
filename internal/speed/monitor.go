// Package speed measures observed download throughput during playback.
package speed

import (
	"sync"
	"time"

	"github.com/jmylchreest/audiocast/internal/netprofile"
)

// DefaultWindowSize is the number of samples kept for the rolling average.
const DefaultWindowSize = 10

// Quality thresholds in Mbps.
const (
	excellentMbps = 20
	goodMbps      = 10
	moderateMbps  = 3
)

// Monitor keeps a FIFO window of recent throughput samples in Mbps.
type Monitor struct {
	mu         sync.RWMutex
	samples    []float64
	windowSize int
}

// NewMonitor creates a monitor with the default window size.
func NewMonitor() *Monitor {
	return NewMonitorWithWindow(DefaultWindowSize)
}

// NewMonitorWithWindow creates a monitor keeping up to windowSize samples.
func NewMonitorWithWindow(windowSize int) *Monitor {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Monitor{
		samples:    make([]float64, 0, windowSize),
		windowSize: windowSize,
	}
}

// AddSample records bytesLoaded transferred over elapsed. Samples with a
// non-positive elapsed time are ignored.
func (m *Monitor) AddSample(bytesLoaded int64, elapsed time.Duration) {
	if elapsed <= 0 || bytesLoaded < 0 {
		return
	}
	mbps := float64(bytesLoaded) * 8 / elapsed.Seconds() / 1e6

	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, mbps)
	if len(m.samples) > m.windowSize {
		m.samples = m.samples[len(m.samples)-m.windowSize:]
	}
}

// AverageSpeed returns the mean of the window in Mbps, or 0 when empty.
func (m *Monitor) AverageSpeed() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range m.samples {
		sum += s
	}
	return sum / float64(len(m.samples))
}

// Quality classifies the average speed.
func (m *Monitor) Quality() netprofile.NetworkQuality {
	avg := m.AverageSpeed()
	switch {
	case avg > excellentMbps:
		return netprofile.QualityExcellent
	case avg > goodMbps:
		return netprofile.QualityGood
	case avg > moderateMbps:
		return netprofile.QualityModerate
	default:
		return netprofile.QualityPoor
	}
}

// Reset empties the window.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = m.samples[:0]
}

// Samples returns a copy of the window, oldest first.
func (m *Monitor) Samples() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]float64, len(m.samples))
	copy(out, m.samples)
	return out
}

// SampleCount returns the number of samples in the window.
func (m *Monitor) SampleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples)
}

// WindowSize returns the configured window size.
func (m *Monitor) WindowSize() int {
	return m.windowSize
}
