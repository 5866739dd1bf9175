package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/audiocast/internal/policy"
	"github.com/jmylchreest/audiocast/pkg/httpclient"
)

// Defaults for HTTPElement.
const (
	DefaultChunkSize    = 512 * 1024
	DefaultStallTimeout = 3 * time.Second
	readBufferSize      = 32 * 1024
)

// ErrNoSource is returned when Play or Load is called before SetSource.
var ErrNoSource = errors.New("no media source")

// HTTPElement streams a media URL in ranged chunks to a writer. It emits
// waiting before each refill, playing when bytes flow, stalled when no bytes
// arrive within the stall timeout, and progress after every chunk.
type HTTPElement struct {
	listeners

	client       *httpclient.Client
	out          io.Writer
	stallTimeout time.Duration
	logger       *slog.Logger
	chunkSize    atomic.Int64

	mu        sync.Mutex
	src       string
	preload   policy.PreloadMode
	offset    int64
	total     int64
	primed    []byte
	paused    bool
	ended     bool
	stalled   bool
	reqCancel context.CancelFunc
	runCancel context.CancelFunc
	done      chan struct{}
	runErr    error
}

// HTTPElementOption configures an HTTPElement.
type HTTPElementOption func(*HTTPElement)

// WithStallTimeout sets how long without data counts as a stall.
func WithStallTimeout(d time.Duration) HTTPElementOption {
	return func(e *HTTPElement) { e.stallTimeout = d }
}

// WithElementLogger sets the element logger.
func WithElementLogger(logger *slog.Logger) HTTPElementOption {
	return func(e *HTTPElement) { e.logger = logger }
}

// NewHTTPElement creates a paused element writing media bytes to out.
func NewHTTPElement(client *httpclient.Client, out io.Writer, opts ...HTTPElementOption) *HTTPElement {
	if out == nil {
		out = io.Discard
	}
	e := &HTTPElement{
		client:       client,
		out:          out,
		stallTimeout: DefaultStallTimeout,
		logger:       slog.Default(),
		total:        -1,
		paused:       true,
		preload:      policy.PreloadMetadata,
	}
	e.chunkSize.Store(DefaultChunkSize)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HTTPElement) Subscribe(fn func(Event)) func() { return e.add(fn) }

// SetSource sets the URL to stream. Playback in progress continues from the
// current offset on the next chunk.
func (e *HTTPElement) SetSource(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.src = url
}

// SetChunkSize sets the size of each ranged request.
func (e *HTTPElement) SetChunkSize(n int64) {
	if n > 0 {
		e.chunkSize.Store(n)
	}
}

func (e *HTTPElement) SetPreload(mode policy.PreloadMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.preload = mode
}

// Preload returns the current preload mode.
func (e *HTTPElement) Preload() policy.PreloadMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.preload
}

func (e *HTTPElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Position returns the number of bytes delivered to the writer.
func (e *HTTPElement) Position() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset
}

// Size returns the total media size, or -1 when unknown.
func (e *HTTPElement) Size() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// Load performs the preload action: nothing for none, a size probe for
// metadata, and a probe plus the first chunk for auto.
func (e *HTTPElement) Load(ctx context.Context) error {
	e.mu.Lock()
	src, mode, started := e.src, e.preload, e.offset > 0 || e.primed != nil
	e.mu.Unlock()

	if src == "" {
		return ErrNoSource
	}
	if started || mode == policy.PreloadNone {
		return nil
	}

	n := int64(1)
	if mode == policy.PreloadAuto {
		n = e.chunkSize.Load()
	}

	data, total, err := e.fetchRange(ctx, src, 0, n)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.total = total
	if mode == policy.PreloadAuto {
		e.primed = data
	}
	e.mu.Unlock()
	return nil
}

// Play starts or resumes playback in the background.
func (e *HTTPElement) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.src == "" {
		return ErrNoSource
	}
	if e.runCancel != nil || e.ended {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.runCancel = cancel
	e.done = make(chan struct{})
	e.runErr = nil
	go e.run(runCtx, e.done)
	return nil
}

// Pause halts playback, keeping the current position.
func (e *HTTPElement) Pause() {
	e.mu.Lock()
	cancel := e.runCancel
	e.runCancel = nil
	e.paused = true
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		e.emit(Event{Type: EventPause})
	}
}

// Reload aborts the in-flight request and refetches from the current offset.
func (e *HTTPElement) Reload() {
	e.mu.Lock()
	cancel := e.reqCancel
	e.mu.Unlock()

	e.logger.Debug("media element reload", slog.Int64("offset", e.Position()))
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until playback ends, fails, is paused or ctx is done.
func (e *HTTPElement) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *HTTPElement) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		e.mu.Lock()
		e.runCancel = nil
		e.mu.Unlock()
	}()

	first := true
	for {
		if ctx.Err() != nil {
			return
		}

		e.mu.Lock()
		src, off, total, primed := e.src, e.offset, e.total, e.primed
		e.primed = nil
		e.mu.Unlock()

		if total >= 0 && off >= total {
			e.finish()
			return
		}

		if len(primed) > 0 {
			if err := e.deliver(primed); err != nil {
				e.fail(err)
				return
			}
			e.setPlaying()
			first = false
			continue
		}

		if !first {
			e.emit(Event{Type: EventWaiting})
		}
		first = false

		reqCtx, cancel := context.WithCancel(ctx)
		e.mu.Lock()
		e.reqCancel = cancel
		e.mu.Unlock()

		eof, err := e.streamChunk(reqCtx, src, off)
		reloaded := reqCtx.Err() != nil
		cancel()

		e.mu.Lock()
		e.reqCancel = nil
		e.mu.Unlock()

		if err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case reloaded:
				continue
			default:
				e.fail(err)
				return
			}
		}
		if eof {
			e.finish()
			return
		}
	}
}

// streamChunk fetches one range starting at off and writes it through as it
// arrives.
func (e *HTTPElement) streamChunk(ctx context.Context, src string, off int64) (eof bool, err error) {
	size := e.chunkSize.Load()
	start := time.Now()

	resp, err := e.request(ctx, src, off, size)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return true, nil
	}

	total, whole, err := parseRangeResponse(resp)
	if err != nil {
		return false, err
	}
	if total >= 0 {
		e.mu.Lock()
		e.total = total
		e.mu.Unlock()
	}

	body := io.Reader(resp.Body)
	if whole {
		if off > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
				return false, fmt.Errorf("skipping to offset: %w", err)
			}
		}
	} else {
		body = io.LimitReader(resp.Body, size)
	}

	var lastByte atomic.Int64
	lastByte.Store(time.Now().UnixNano())
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go e.watchStall(watchCtx, &lastByte)

	var n int64
	buf := make([]byte, readBufferSize)
	for {
		m, rerr := body.Read(buf)
		if m > 0 {
			lastByte.Store(time.Now().UnixNano())
			if err := e.deliver(buf[:m]); err != nil {
				return false, err
			}
			n += int64(m)
			e.setPlaying()
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return false, rerr
		}
	}

	if n > 0 {
		e.emit(Event{Type: EventProgress, Bytes: n, Elapsed: time.Since(start)})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case whole:
		return true, nil
	case e.total >= 0:
		return e.offset >= e.total, nil
	default:
		return n < size, nil
	}
}

func (e *HTTPElement) watchStall(ctx context.Context, lastByte *atomic.Int64) {
	interval := max(e.stallTimeout/4, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(time.Unix(0, lastByte.Load())) < e.stallTimeout {
				continue
			}
			e.mu.Lock()
			already := e.stalled
			e.stalled = true
			e.paused = true
			e.mu.Unlock()
			if !already {
				e.emit(Event{Type: EventStalled})
			}
		}
	}
}

func (e *HTTPElement) deliver(p []byte) error {
	if _, err := e.out.Write(p); err != nil {
		return fmt.Errorf("writing media: %w", err)
	}
	e.mu.Lock()
	e.offset += int64(len(p))
	e.mu.Unlock()
	return nil
}

func (e *HTTPElement) setPlaying() {
	e.mu.Lock()
	changed := e.paused || e.stalled
	e.paused = false
	e.stalled = false
	e.mu.Unlock()
	if changed {
		e.emit(Event{Type: EventPlaying})
	}
}

func (e *HTTPElement) finish() {
	e.mu.Lock()
	e.ended = true
	e.paused = true
	e.mu.Unlock()
	e.emit(Event{Type: EventEnded})
}

func (e *HTTPElement) fail(err error) {
	e.mu.Lock()
	e.paused = true
	e.runErr = err
	e.mu.Unlock()
	e.logger.Warn("media element error", slog.String("error", err.Error()))
	e.emit(Event{Type: EventError, Err: err})
}

func (e *HTTPElement) request(ctx context.Context, src string, off, n int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+n-1))
	// ranges refer to the stored representation
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent, http.StatusRequestedRangeNotSatisfiable:
		return resp, nil
	default:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("media request returned status %d", resp.StatusCode)
	}
}

func (e *HTTPElement) fetchRange(ctx context.Context, src string, off, n int64) ([]byte, int64, error) {
	resp, err := e.request(ctx, src, off, n)
	if err != nil {
		return nil, -1, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return nil, 0, nil
	}
	total, _, err := parseRangeResponse(resp)
	if err != nil {
		return nil, -1, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, n))
	if err != nil {
		return nil, -1, err
	}
	return data, total, nil
}

// parseRangeResponse returns the full media size (-1 if unknown) and whether
// the server ignored the range and sent the whole body.
func parseRangeResponse(resp *http.Response) (total int64, whole bool, err error) {
	if resp.StatusCode == http.StatusOK {
		return resp.ContentLength, true, nil
	}

	cr := resp.Header.Get("Content-Range")
	slash := strings.LastIndexByte(cr, '/')
	if slash < 0 {
		return -1, false, nil
	}
	sizeStr := cr[slash+1:]
	if sizeStr == "*" {
		return -1, false, nil
	}
	total, err = strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return -1, false, fmt.Errorf("parsing content-range %q: %w", cr, err)
	}
	return total, false, nil
}
