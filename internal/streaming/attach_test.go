package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/audiocast/internal/netprofile"
	"github.com/jmylchreest/audiocast/internal/playback"
	"github.com/jmylchreest/audiocast/internal/policy"
	"github.com/jmylchreest/audiocast/internal/speed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sizedElement struct {
	*playback.ManualElement
	chunk int64
}

func (s *sizedElement) SetChunkSize(n int64) { s.chunk = n }

func TestAttach_ConfiguresElement(t *testing.T) {
	h := newHarness(t, goodConn, netprofile.DeviceDesktop)
	require.NoError(t, h.ctrl.FetchStreamingURL(context.Background(), false))

	el := &sizedElement{ManualElement: playback.NewManualElement()}
	release := h.ctrl.AttachAudioElement(el)
	defer release()

	assert.Equal(t, h.ctrl.State().URL, el.Source())
	assert.Equal(t, policy.PreloadAuto, el.Preload())
	assert.Equal(t, h.ctrl.State().Config.ChunkSizeBytes, el.chunk)
	assert.Equal(t, 1, el.Listeners())
}

func TestAttach_SourceFollowsRenewal(t *testing.T) {
	h := newHarness(t, goodConn, netprofile.DeviceDesktop)
	el := playback.NewManualElement()
	release := h.ctrl.AttachAudioElement(el)
	defer release()
	assert.Empty(t, el.Source())

	require.NoError(t, h.ctrl.FetchStreamingURL(context.Background(), false))
	assert.Equal(t, "https://cdn.example.test/book-1.mp3?v=1", el.Source())

	h.clock.Advance(58 * time.Minute)
	assert.Equal(t, "https://cdn.example.test/book-1.mp3?v=2", el.Source())
}

func TestAttach_ReleaseAndReattach(t *testing.T) {
	h := newHarness(t, goodConn, netprofile.DeviceDesktop)

	first := playback.NewManualElement()
	releaseFirst := h.ctrl.AttachAudioElement(first)
	require.Equal(t, 1, first.Listeners())

	second := playback.NewManualElement()
	releaseSecond := h.ctrl.AttachAudioElement(second)
	assert.Equal(t, 0, first.Listeners())
	assert.Equal(t, 1, second.Listeners())

	first.Emit(playback.Event{Type: playback.EventWaiting})
	assert.False(t, h.ctrl.State().Buffering)

	releaseFirst()
	assert.Equal(t, 1, second.Listeners())

	releaseSecond()
	releaseSecond()
	assert.Equal(t, 0, second.Listeners())
}

func TestAttach_ReattachResetsThroughput(t *testing.T) {
	h := newHarness(t, goodConn, netprofile.DeviceDesktop)

	first := playback.NewManualElement()
	h.ctrl.AttachAudioElement(first)
	first.Emit(playback.Event{Type: playback.EventProgress, Bytes: 1_250_000, Elapsed: time.Second})
	first.Emit(playback.Event{Type: playback.EventProgress, Bytes: 1_250_000, Elapsed: time.Second})
	require.Equal(t, 2, h.ctrl.monitor.SampleCount())

	second := playback.NewManualElement()
	release := h.ctrl.AttachAudioElement(second)
	defer release()
	assert.Equal(t, 0, h.ctrl.monitor.SampleCount())

	second.Emit(playback.Event{Type: playback.EventProgress, Bytes: 250_000, Elapsed: time.Second})
	assert.InDelta(t, 2.0, h.ctrl.State().DownloadSpeedMbps, 0.001)
}

func TestAttach_AfterCloseIsNoop(t *testing.T) {
	h := newHarness(t, goodConn, netprofile.DeviceDesktop)
	h.ctrl.Close()

	el := playback.NewManualElement()
	release := h.ctrl.AttachAudioElement(el)
	release()
	assert.Equal(t, 0, el.Listeners())
}

func TestAttach_BufferingAndSpeed(t *testing.T) {
	h := newHarness(t, goodConn, netprofile.DeviceDesktop)
	el := playback.NewManualElement()
	release := h.ctrl.AttachAudioElement(el)
	defer release()

	el.Emit(playback.Event{Type: playback.EventWaiting})
	assert.True(t, h.ctrl.State().Buffering)

	el.Emit(playback.Event{Type: playback.EventPlaying})
	assert.False(t, h.ctrl.State().Buffering)

	// 1.25 MB in one second is 10 Mbps.
	el.Emit(playback.Event{Type: playback.EventProgress, Bytes: 1_250_000, Elapsed: time.Second})
	el.Emit(playback.Event{Type: playback.EventProgress, Bytes: 2_500_000, Elapsed: time.Second})
	assert.InDelta(t, 15.0, h.ctrl.State().DownloadSpeedMbps, 0.001)

	release()
	el.Emit(playback.Event{Type: playback.EventWaiting})
	assert.False(t, h.ctrl.State().Buffering)
}

func TestAttach_ElementError(t *testing.T) {
	h := newHarness(t, goodConn, netprofile.DeviceDesktop)
	el := playback.NewManualElement()
	release := h.ctrl.AttachAudioElement(el)
	defer release()

	el.Emit(playback.Event{Type: playback.EventError, Err: context.DeadlineExceeded})
	assert.Equal(t, "Loading the audio timed out. Please try again.", h.ctrl.State().Error)
}

func TestStallRecovery(t *testing.T) {
	tests := []struct {
		name        string
		conn        netprofile.Connection
		resume      bool
		wantReloads int
	}{
		{"poor network still paused reloads once", poorConn, false, 1},
		{"poor network resumed does not reload", poorConn, true, 0},
		{"good network never reloads", goodConn, false, 0},
		{"moderate network without measurements", moderateConn, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.conn, netprofile.DeviceDesktop)
			el := playback.NewManualElement()
			release := h.ctrl.AttachAudioElement(el)
			defer release()

			el.Emit(playback.Event{Type: playback.EventPlaying})
			el.Emit(playback.Event{Type: playback.EventStalled})
			assert.True(t, h.ctrl.State().Buffering)

			h.clock.Advance(StallRecoveryDelay - time.Millisecond)
			assert.Equal(t, 0, el.Reloads())

			if tt.resume {
				el.Emit(playback.Event{Type: playback.EventPlaying})
			}
			h.clock.Advance(time.Millisecond)
			assert.Equal(t, tt.wantReloads, el.Reloads())

			h.clock.Advance(time.Minute)
			assert.Equal(t, tt.wantReloads, el.Reloads())
		})
	}
}

func TestStallRecovery_ModerateWithPoorThroughput(t *testing.T) {
	h := newHarness(t, moderateConn, netprofile.DeviceDesktop)
	el := playback.NewManualElement()
	release := h.ctrl.AttachAudioElement(el)
	defer release()

	el.Emit(playback.Event{Type: playback.EventProgress, Bytes: 50_000, Elapsed: time.Second})
	el.Emit(playback.Event{Type: playback.EventStalled})
	h.clock.Advance(StallRecoveryDelay)

	assert.Equal(t, 1, el.Reloads())
}

func TestStallRecovery_RepeatedStallsAreIndependent(t *testing.T) {
	h := newHarness(t, poorConn, netprofile.DeviceDesktop)
	el := playback.NewManualElement()
	release := h.ctrl.AttachAudioElement(el)
	defer release()

	el.Emit(playback.Event{Type: playback.EventStalled})
	h.clock.Advance(StallRecoveryDelay)
	assert.Equal(t, 1, el.Reloads())

	el.Emit(playback.Event{Type: playback.EventPlaying})
	el.Emit(playback.Event{Type: playback.EventStalled})
	h.clock.Advance(StallRecoveryDelay)
	assert.Equal(t, 2, el.Reloads())
}

func TestStallRecovery_CancelledOnRelease(t *testing.T) {
	h := newHarness(t, poorConn, netprofile.DeviceDesktop)
	el := playback.NewManualElement()
	release := h.ctrl.AttachAudioElement(el)

	el.Emit(playback.Event{Type: playback.EventStalled})
	require.Equal(t, 1, h.clock.Pending())

	release()
	assert.Equal(t, 0, h.clock.Pending())
	h.clock.Advance(StallRecoveryDelay)
	assert.Equal(t, 0, el.Reloads())
}

func TestShouldRecoverStall(t *testing.T) {
	slow := speed.NewMonitor()
	slow.AddSample(10_000, time.Second)
	fast := speed.NewMonitor()
	fast.AddSample(10_000_000, time.Second)

	assert.True(t, ShouldRecoverStall(netprofile.QualityPoor, nil))
	assert.True(t, ShouldRecoverStall(netprofile.QualityModerate, slow))
	assert.False(t, ShouldRecoverStall(netprofile.QualityModerate, fast))
	assert.False(t, ShouldRecoverStall(netprofile.QualityModerate, speed.NewMonitor()))
	assert.False(t, ShouldRecoverStall(netprofile.QualityModerate, nil))
	assert.False(t, ShouldRecoverStall(netprofile.QualityGood, slow))
	assert.False(t, ShouldRecoverStall(netprofile.QualityExcellent, slow))
}
