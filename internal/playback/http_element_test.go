package playback

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmylchreest/audiocast/internal/policy"
	"github.com/jmylchreest/audiocast/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) count(typ EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (l *eventLog) progressBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, ev := range l.events {
		if ev.Type == EventProgress {
			total += ev.Bytes
		}
	}
	return total
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func testMedia(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func testClient() *httpclient.Client {
	return httpclient.New(httpclient.Config{RetryAttempts: 0})
}

func rangeServer(t *testing.T, data []byte, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPElement_PlaysAllChunks(t *testing.T) {
	data := testMedia(100 * 1024)
	var requests atomic.Int32
	srv := rangeServer(t, data, &requests)

	out := &syncBuffer{}
	el := NewHTTPElement(testClient(), out, WithStallTimeout(time.Minute))
	el.SetChunkSize(16 * 1024)
	el.SetSource(srv.URL)

	events := &eventLog{}
	el.Subscribe(events.record)

	require.NoError(t, el.Play(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, el.Wait(ctx))

	assert.Equal(t, data, out.Bytes())
	assert.Equal(t, int64(len(data)), el.Position())
	assert.Equal(t, int64(len(data)), el.Size())
	assert.True(t, el.Paused())
	assert.Equal(t, int32(7), requests.Load())
	assert.Equal(t, int64(len(data)), events.progressBytes())
	assert.Equal(t, 7, events.count(EventProgress))
	assert.Equal(t, 6, events.count(EventWaiting))
	assert.Equal(t, 1, events.count(EventPlaying))
	assert.Equal(t, 1, events.count(EventEnded))
}

func TestHTTPElement_PlayWithoutSource(t *testing.T) {
	el := NewHTTPElement(testClient(), nil)
	assert.ErrorIs(t, el.Play(context.Background()), ErrNoSource)
	assert.ErrorIs(t, el.Load(context.Background()), ErrNoSource)
}

func TestHTTPElement_Load(t *testing.T) {
	data := testMedia(40 * 1024)

	tests := []struct {
		name         string
		mode         policy.PreloadMode
		wantRequests int32
		wantSize     int64
	}{
		{"none", policy.PreloadNone, 0, -1},
		{"metadata", policy.PreloadMetadata, 1, int64(len(data))},
		{"auto", policy.PreloadAuto, 1, int64(len(data))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			srv := rangeServer(t, data, &requests)

			el := NewHTTPElement(testClient(), nil)
			el.SetChunkSize(8 * 1024)
			el.SetSource(srv.URL)
			el.SetPreload(tt.mode)

			require.NoError(t, el.Load(context.Background()))
			assert.Equal(t, tt.wantRequests, requests.Load())
			assert.Equal(t, tt.wantSize, el.Size())
			assert.Equal(t, int64(0), el.Position())
		})
	}
}

func TestHTTPElement_PrimedChunkIsPlayedFirst(t *testing.T) {
	data := testMedia(24 * 1024)
	var requests atomic.Int32
	srv := rangeServer(t, data, &requests)

	out := &syncBuffer{}
	el := NewHTTPElement(testClient(), out, WithStallTimeout(time.Minute))
	el.SetChunkSize(8 * 1024)
	el.SetSource(srv.URL)
	el.SetPreload(policy.PreloadAuto)
	require.NoError(t, el.Load(context.Background()))

	require.NoError(t, el.Play(context.Background()))
	require.NoError(t, el.Wait(context.Background()))

	assert.Equal(t, data, out.Bytes())
	assert.Equal(t, int32(3), requests.Load())
}

func TestHTTPElement_ServerIgnoresRange(t *testing.T) {
	data := testMedia(20 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	out := &syncBuffer{}
	el := NewHTTPElement(testClient(), out, WithStallTimeout(time.Minute))
	el.SetChunkSize(4 * 1024)
	el.SetSource(srv.URL)

	require.NoError(t, el.Play(context.Background()))
	require.NoError(t, el.Wait(context.Background()))
	assert.Equal(t, data, out.Bytes())
}

func TestHTTPElement_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	el := NewHTTPElement(testClient(), nil, WithStallTimeout(time.Minute))
	el.SetSource(srv.URL)
	events := &eventLog{}
	el.Subscribe(events.record)

	require.NoError(t, el.Play(context.Background()))
	err := el.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, 1, events.count(EventError))
	assert.True(t, el.Paused())
}

func TestHTTPElement_StallAndReload(t *testing.T) {
	data := testMedia(32 * 1024)
	const head = 1000
	var requests atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(data)-1, len(data)))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(data[:head])
			w.(http.Flusher).Flush()
			<-r.Context().Done()
			return
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	out := &syncBuffer{}
	el := NewHTTPElement(testClient(), out, WithStallTimeout(50*time.Millisecond))
	el.SetChunkSize(int64(len(data)))
	el.SetSource(srv.URL)

	stalled := make(chan struct{}, 1)
	events := &eventLog{}
	el.Subscribe(func(ev Event) {
		events.record(ev)
		if ev.Type == EventStalled {
			select {
			case stalled <- struct{}{}:
			default:
			}
		}
	})

	require.NoError(t, el.Play(context.Background()))

	select {
	case <-stalled:
	case <-time.After(5 * time.Second):
		t.Fatal("no stalled event")
	}
	assert.True(t, el.Paused())
	assert.Equal(t, int64(head), el.Position())

	el.Reload()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, el.Wait(ctx))

	assert.Equal(t, data, out.Bytes())
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, 2, events.count(EventPlaying))
	assert.Equal(t, 1, events.count(EventEnded))
}

func TestHTTPElement_Pause(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-99/1000")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(make([]byte, 10))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	el := NewHTTPElement(testClient(), nil, WithStallTimeout(time.Minute))
	el.SetSource(srv.URL)
	events := &eventLog{}
	el.Subscribe(events.record)

	require.NoError(t, el.Play(context.Background()))
	require.Eventually(t, func() bool { return el.Position() == 10 }, 5*time.Second, 5*time.Millisecond)

	el.Pause()
	require.NoError(t, el.Wait(context.Background()))
	assert.True(t, el.Paused())
	assert.Equal(t, 1, events.count(EventPause))
	assert.Equal(t, 0, events.count(EventEnded))
}

func TestParseRangeResponse(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    string
		length    int64
		wantTotal int64
		wantWhole bool
		wantErr   bool
	}{
		{"full body", http.StatusOK, "", 500, 500, true, false},
		{"partial", http.StatusPartialContent, "bytes 0-99/1000", 100, 1000, false, false},
		{"unknown size", http.StatusPartialContent, "bytes 0-99/*", 100, -1, false, false},
		{"missing header", http.StatusPartialContent, "", 100, -1, false, false},
		{"garbage", http.StatusPartialContent, "bytes 0-99/abc", 100, -1, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}, ContentLength: tt.length}
			if tt.header != "" {
				resp.Header.Set("Content-Range", tt.header)
			}
			total, whole, err := parseRangeResponse(resp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, total)
			assert.Equal(t, tt.wantWhole, whole)
		})
	}
}
