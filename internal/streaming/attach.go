package streaming

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/jmylchreest/audiocast/internal/clock"
	"github.com/jmylchreest/audiocast/internal/netprofile"
	"github.com/jmylchreest/audiocast/internal/playback"
	"github.com/jmylchreest/audiocast/internal/speed"
)

type attachment struct {
	c    *Controller
	el   playback.Element
	once sync.Once

	mu       sync.Mutex
	unsub    func()
	stalls   []clock.Timer
	released bool
}

// AttachAudioElement wires the speed monitor and stall detection to el and
// returns an idempotent release func. The element receives the current URL,
// preload mode and chunk size. An existing attachment is released first and
// its throughput samples are discarded.
func (c *Controller) AttachAudioElement(el playback.Element) func() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	prev := c.attachment
	att := &attachment{c: c, el: el}
	c.attachment = att
	url := c.state.URL
	cfg := c.state.Config
	c.mu.Unlock()

	if prev != nil {
		prev.release()
		c.monitor.Reset()
	}

	if url != "" {
		el.SetSource(url)
	}
	el.SetPreload(c.policy.RecommendedPreload(!el.Paused()))
	if sizer, ok := el.(playback.ChunkSizer); ok {
		sizer.SetChunkSize(cfg.ChunkSizeBytes)
	}

	unsub := el.Subscribe(att.handle)
	att.mu.Lock()
	if att.released {
		att.mu.Unlock()
		unsub()
		return att.release
	}
	att.unsub = unsub
	att.mu.Unlock()

	c.logger.Debug("media element attached")
	return att.release
}

func (a *attachment) handle(ev playback.Event) {
	c := a.c
	switch ev.Type {
	case playback.EventProgress:
		c.monitor.AddSample(ev.Bytes, ev.Elapsed)
		mbps := c.monitor.AverageSpeed()
		a.update(func(s *State) { s.DownloadSpeedMbps = mbps })
	case playback.EventWaiting:
		a.update(func(s *State) { s.Buffering = true })
	case playback.EventStalled:
		a.update(func(s *State) { s.Buffering = true })
		a.scheduleRecovery()
	case playback.EventPlaying, playback.EventPause, playback.EventEnded:
		a.update(func(s *State) { s.Buffering = false })
	case playback.EventError:
		c.logger.Warn("media element error", slog.Any("error", ev.Err))
		msg := UserMessage(ev.Err)
		a.update(func(s *State) { s.Error = msg })
	}
}

// update applies fn to the controller state while a is the live attachment.
func (a *attachment) update(fn func(*State)) {
	c := a.c
	c.mu.Lock()
	if c.closed || c.attachment != a {
		c.mu.Unlock()
		return
	}
	fn(&c.state)
	snapshot, subs := c.snapshotLocked()
	c.mu.Unlock()
	notify(subs, snapshot)
}

func (a *attachment) scheduleRecovery() {
	c := a.c
	quality := c.profile.GetNetworkInfo().Quality
	if !ShouldRecoverStall(quality, c.monitor) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return
	}
	var t clock.Timer
	t = c.clock.AfterFunc(StallRecoveryDelay, func() { a.recover(t) })
	a.stalls = append(a.stalls, t)
}

func (a *attachment) recover(t clock.Timer) {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return
	}
	a.stalls = slices.DeleteFunc(a.stalls, func(other clock.Timer) bool { return other == t })
	a.mu.Unlock()

	if !a.el.Paused() {
		a.c.logger.Debug("stall resolved without reload")
		return
	}
	a.c.logger.Info("reloading stalled media element")
	a.el.Reload()
}

func (a *attachment) release() {
	a.once.Do(func() {
		a.mu.Lock()
		a.released = true
		unsub := a.unsub
		stalls := a.stalls
		a.stalls = nil
		a.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		for _, t := range stalls {
			t.Stop()
		}

		c := a.c
		c.mu.Lock()
		if c.attachment != a {
			c.mu.Unlock()
			return
		}
		c.attachment = nil
		c.state.Buffering = false
		snapshot, subs := c.snapshotLocked()
		c.mu.Unlock()
		notify(subs, snapshot)
	})
}

// ShouldRecoverStall reports whether a stall warrants a reload attempt: always
// on a poor network, and on a moderate one when measured throughput is poor.
func ShouldRecoverStall(network netprofile.NetworkQuality, measured *speed.Monitor) bool {
	switch network {
	case netprofile.QualityPoor:
		return true
	case netprofile.QualityModerate:
		return measured != nil && measured.SampleCount() > 0 && measured.Quality() == netprofile.QualityPoor
	default:
		return false
	}
}
