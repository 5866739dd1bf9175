// Package prefetch warms the start of an upcoming stream so playback can begin
// without waiting on the first network round trip.
package prefetch

import (
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/audiocast/internal/netprofile"
	"github.com/oklog/ulid/v2"
)

// Priority is the fetch priority of a hint.
type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityAuto Priority = "auto"
)

// Hint is an outstanding request to warm a URL.
type Hint struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	Priority Priority  `json:"priority"`
	Created  time.Time `json:"created"`
}

// HintSink receives inserted and removed hints.
type HintSink interface {
	Insert(h Hint)
	Remove(h Hint)
}

// QualitySource reports the current network quality.
type QualitySource interface {
	GetNetworkInfo() netprofile.NetworkInfo
}

// Manager keeps at most one outstanding hint. It does not decide whether
// prefetching is appropriate; callers check eligibility first.
type Manager struct {
	sink    HintSink
	quality QualitySource
	logger  *slog.Logger

	// mu is held across sink calls. Sinks must not block.
	mu      sync.Mutex
	current *Hint
	closed  bool
}

// NewManager creates a manager writing hints to sink.
func NewManager(sink HintSink, quality QualitySource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{sink: sink, quality: quality, logger: logger}
}

// Prefetch replaces any outstanding hint with one for url. Excellent networks
// get high priority. After Close it returns false and leaves the sink alone.
func (m *Manager) Prefetch(url string) (Hint, bool) {
	priority := PriorityAuto
	if m.quality != nil && m.quality.GetNetworkInfo().Quality == netprofile.QualityExcellent {
		priority = PriorityHigh
	}

	now := time.Now()
	h := Hint{
		ID:       ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		URL:      url,
		Priority: priority,
		Created:  now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Hint{}, false
	}
	if m.current != nil {
		m.sink.Remove(*m.current)
	}
	m.current = &h
	m.sink.Insert(h)
	m.mu.Unlock()

	m.logger.Debug("prefetch hint inserted",
		slog.String("hint_id", h.ID),
		slog.String("priority", string(h.Priority)),
	)
	return h, true
}

// Remove withdraws the outstanding hint, if any.
func (m *Manager) Remove() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked()
}

// Close withdraws the outstanding hint and turns later Prefetch calls into
// no-ops. It waits for an in-progress Prefetch to reach the sink first.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.removeLocked()
}

func (m *Manager) removeLocked() {
	if m.current != nil {
		m.sink.Remove(*m.current)
		m.current = nil
	}
}

// Current returns the outstanding hint.
func (m *Manager) Current() (Hint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Hint{}, false
	}
	return *m.current, true
}
