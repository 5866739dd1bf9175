package prefetch

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmylchreest/audiocast/internal/netprofile"
	"github.com/jmylchreest/audiocast/pkg/httpclient"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedQuality netprofile.NetworkQuality

func (q fixedQuality) GetNetworkInfo() netprofile.NetworkInfo {
	return netprofile.NetworkInfo{Quality: netprofile.NetworkQuality(q)}
}

func TestManager_SingleOutstandingHint(t *testing.T) {
	rec := NewRecorder()
	m := NewManager(rec, fixedQuality(netprofile.QualityGood), nil)

	first, ok := m.Prefetch("https://cdn.example.test/a.mp3")
	require.True(t, ok)
	second, ok := m.Prefetch("https://cdn.example.test/b.mp3")
	require.True(t, ok)

	live := rec.Live()
	require.Len(t, live, 1)
	assert.Equal(t, second.ID, live[0].ID)
	assert.Equal(t, "https://cdn.example.test/b.mp3", live[0].URL)
	assert.NotEqual(t, first.ID, second.ID)

	_, err := ulid.Parse(second.ID)
	assert.NoError(t, err)

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, second.ID, cur.ID)
}

func TestManager_Priority(t *testing.T) {
	tests := []struct {
		quality  netprofile.NetworkQuality
		expected Priority
	}{
		{netprofile.QualityExcellent, PriorityHigh},
		{netprofile.QualityGood, PriorityAuto},
		{netprofile.QualityPoor, PriorityAuto},
	}

	for _, tt := range tests {
		m := NewManager(NewRecorder(), fixedQuality(tt.quality), nil)
		h, _ := m.Prefetch("https://cdn.example.test/x")
		assert.Equal(t, tt.expected, h.Priority, string(tt.quality))
	}
}

func TestManager_RemoveIdempotent(t *testing.T) {
	rec := NewRecorder()
	m := NewManager(rec, nil, nil)

	m.Remove()
	m.Prefetch("https://cdn.example.test/a.mp3")
	m.Remove()
	m.Remove()

	assert.Empty(t, rec.Live())
	inserts, removes := rec.Counts()
	assert.Equal(t, 1, inserts)
	assert.Equal(t, 1, removes)
	_, ok := m.Current()
	assert.False(t, ok)
}

// gatedSink blocks the first Insert until gate is closed.
type gatedSink struct {
	*Recorder
	started chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGatedSink() *gatedSink {
	return &gatedSink{Recorder: NewRecorder(), started: make(chan struct{}), gate: make(chan struct{})}
}

func (s *gatedSink) Insert(h Hint) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.started)
		<-s.gate
	}
	s.Recorder.Insert(h)
}

func TestManager_ConcurrentPrefetchKeepsOneHint(t *testing.T) {
	sink := newGatedSink()
	m := NewManager(sink, fixedQuality(netprofile.QualityGood), nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.Prefetch("https://cdn.example.test/a.mp3")
	}()
	<-sink.started
	go func() {
		defer wg.Done()
		m.Prefetch("https://cdn.example.test/b.mp3")
	}()
	time.Sleep(20 * time.Millisecond)
	close(sink.gate)
	wg.Wait()

	live := sink.Live()
	require.Len(t, live, 1)
	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, cur.ID, live[0].ID)
}

func TestManager_Close(t *testing.T) {
	rec := NewRecorder()
	m := NewManager(rec, nil, nil)

	_, ok := m.Prefetch("https://cdn.example.test/a.mp3")
	require.True(t, ok)
	m.Close()
	assert.Empty(t, rec.Live())

	h, ok := m.Prefetch("https://cdn.example.test/b.mp3")
	assert.False(t, ok)
	assert.Empty(t, h.ID)
	assert.Empty(t, rec.Live())
	_, ok = m.Current()
	assert.False(t, ok)

	m.Close()
	inserts, removes := rec.Counts()
	assert.Equal(t, 1, inserts)
	assert.Equal(t, 1, removes)
}

func TestManager_CloseWaitsForInsert(t *testing.T) {
	sink := newGatedSink()
	m := NewManager(sink, nil, nil)

	go m.Prefetch("https://cdn.example.test/a.mp3")
	<-sink.started

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()
	time.Sleep(20 * time.Millisecond)
	close(sink.gate)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return")
	}
	assert.Empty(t, sink.Live())
	_, ok := m.Current()
	assert.False(t, ok)
}

func TestWarmer_RangedGet(t *testing.T) {
	var gotRange atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange.Store(r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(make([]byte, 1024))
	}))
	defer server.Close()

	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	warmer := NewWarmer(httpclient.New(cfg), 1024, nil)

	m := NewManager(Fanout{warmer}, fixedQuality(netprofile.QualityGood), nil)
	m.Prefetch(server.URL + "/a.mp3")
	warmer.Wait()
	assert.Equal(t, "bytes=0-1023", gotRange.Load())

	m = NewManager(warmer, fixedQuality(netprofile.QualityExcellent), nil)
	m.Prefetch(server.URL + "/a.mp3")
	warmer.Wait()
	assert.Equal(t, "bytes=0-2047", gotRange.Load())
}

func TestWarmer_RemoveCancels(t *testing.T) {
	release := make(chan struct{})
	var canceled atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			canceled.Store(true)
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	warmer := NewWarmer(httpclient.New(cfg), 512, nil)
	m := NewManager(warmer, nil, nil)

	m.Prefetch(server.URL + "/slow.mp3")
	time.Sleep(20 * time.Millisecond)
	m.Remove()

	done := make(chan struct{})
	go func() {
		warmer.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("warm-up was not cancelled")
	}
}
