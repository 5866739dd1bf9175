// Package playback provides media elements that stream audio and report
// buffering events.
package playback

import (
	"sync"
	"time"

	"github.com/jmylchreest/audiocast/internal/policy"
)

// EventType identifies a media element event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventWaiting  EventType = "waiting"
	EventStalled  EventType = "stalled"
	EventPlaying  EventType = "playing"
	EventPause    EventType = "pause"
	EventEnded    EventType = "ended"
	EventError    EventType = "error"
)

// Event is emitted by an Element. Bytes and Elapsed are set on progress
// events and cover one completed transfer.
type Event struct {
	Type    EventType
	Bytes   int64
	Elapsed time.Duration
	Err     error
}

// Element is a live media element the streaming controller can attach to.
type Element interface {
	// Subscribe registers fn for events and returns an idempotent unsubscribe.
	Subscribe(fn func(Event)) func()
	// Paused reports whether playback is currently halted.
	Paused() bool
	// Reload restarts loading from the current position.
	Reload()
	SetPreload(mode policy.PreloadMode)
	SetSource(url string)
}

// ChunkSizer is implemented by elements that download in fixed-size ranges.
type ChunkSizer interface {
	SetChunkSize(n int64)
}

type listeners struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(Event)
}

func (l *listeners) add(fn func(Event)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(Event))
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners) emit(ev Event) {
	l.mu.Lock()
	fns := make([]func(Event), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (l *listeners) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

// ManualElement is an Element driven by hand, for tests and embedding
// players that manage their own transport.
type ManualElement struct {
	listeners

	mu      sync.Mutex
	paused  bool
	preload policy.PreloadMode
	source  string
	reloads int
}

// NewManualElement returns a paused element.
func NewManualElement() *ManualElement {
	return &ManualElement{paused: true}
}

func (m *ManualElement) Subscribe(fn func(Event)) func() { return m.add(fn) }

// Emit delivers ev to subscribers. Playing and pause events update Paused.
func (m *ManualElement) Emit(ev Event) {
	m.mu.Lock()
	switch ev.Type {
	case EventPlaying:
		m.paused = false
	case EventPause, EventStalled, EventEnded:
		m.paused = true
	}
	m.mu.Unlock()
	m.emit(ev)
}

func (m *ManualElement) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// SetPaused overrides the paused state without emitting an event.
func (m *ManualElement) SetPaused(p bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = p
}

func (m *ManualElement) Reload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
}

// Reloads returns how many times Reload was called.
func (m *ManualElement) Reloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloads
}

func (m *ManualElement) SetPreload(mode policy.PreloadMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preload = mode
}

// Preload returns the last preload mode set.
func (m *ManualElement) Preload() policy.PreloadMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preload
}

func (m *ManualElement) SetSource(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = url
}

// Source returns the last source set.
func (m *ManualElement) Source() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// Listeners returns the number of active subscriptions.
func (m *ManualElement) Listeners() int { return m.count() }
