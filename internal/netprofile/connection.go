package netprofile

import "sync"

// Connection holds the raw connection signals a platform exposes.
type Connection struct {
	EffectiveType string  `json:"effective_type"`
	DownlinkMbps  float64 `json:"downlink_mbps"`
	RTTMillis     int     `json:"rtt_ms"`
	SaveData      bool    `json:"save_data"`
}

// ConnectionSource supplies connection signals and change notifications.
// Connection reports false when the platform has no connection API.
type ConnectionSource interface {
	Connection() (Connection, bool)
	Subscribe(fn func()) (unsubscribe func())
}

// NoConnection is a ConnectionSource for platforms without a connection API.
type NoConnection struct{}

// Connection always reports the API as unavailable.
func (NoConnection) Connection() (Connection, bool) { return Connection{}, false }

// Subscribe never fires.
func (NoConnection) Subscribe(func()) func() { return func() {} }

// ManualConnection is a ConnectionSource whose signals are set explicitly,
// by configuration, the control API or tests. The zero value is unavailable
// until Set is called.
type ManualConnection struct {
	mu        sync.Mutex
	conn      Connection
	available bool
	nextID    int
	subs      map[int]func()
}

// NewManualConnection returns a source seeded with conn.
func NewManualConnection(conn Connection) *ManualConnection {
	return &ManualConnection{conn: conn, available: true}
}

// Connection returns the current signals.
func (m *ManualConnection) Connection() (Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn, m.available
}

// Set replaces the signals and notifies subscribers.
func (m *ManualConnection) Set(conn Connection) {
	m.mu.Lock()
	m.conn = conn
	m.available = true
	subs := m.snapshotLocked()
	m.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// Disable marks the connection API as unavailable and notifies subscribers.
func (m *ManualConnection) Disable() {
	m.mu.Lock()
	m.available = false
	subs := m.snapshotLocked()
	m.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// Subscribe registers fn for change events.
func (m *ManualConnection) Subscribe(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subs == nil {
		m.subs = make(map[int]func())
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered change listeners.
func (m *ManualConnection) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *ManualConnection) snapshotLocked() []func() {
	subs := make([]func(), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return subs
}
